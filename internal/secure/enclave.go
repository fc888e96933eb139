package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed buffer is opened.
var ErrDestroyed = errors.New("secure buffer destroyed")

// SecureBuffer holds one sealed value.
type SecureBuffer struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	size    int
}

// NewSecureBuffer seals data. memguard wipes data after copying it.
func NewSecureBuffer(data []byte) *SecureBuffer {
	b := &SecureBuffer{size: len(data)}
	if len(data) > 0 {
		b.enclave = memguard.NewEnclave(data)
	}
	return b
}

// NewSecureString seals s.
func NewSecureString(s string) *SecureBuffer {
	return NewSecureBuffer([]byte(s))
}

// Open decrypts the value into a locked buffer. The caller must Destroy it.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.size < 0:
		return nil, ErrDestroyed
	case s.enclave == nil:
		// memguard refuses empty enclaves
		return memguard.NewBuffer(0), nil
	}
	return s.enclave.Open()
}

// String decrypts the value and returns it as a Go string.
func (s *SecureBuffer) String() (string, error) {
	if s.Len() == 0 {
		if s.destroyed() {
			return "", ErrDestroyed
		}
		return "", nil
	}
	locked, err := s.Open()
	if err != nil {
		return "", err
	}
	defer locked.Destroy()
	return string(locked.Bytes()), nil
}

// Len returns the size of the sealed value.
func (s *SecureBuffer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return max(s.size, 0)
}

func (s *SecureBuffer) destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size < 0
}

// Destroy drops the enclave. It is safe to call more than once.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
	s.size = -1
}
