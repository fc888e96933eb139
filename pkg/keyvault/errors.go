package keyvault

import (
	"errors"
	"fmt"
)

var (
	// ErrNoKey is returned by Entity.Sign and Entity.Verify when the entity
	// has no linked key.
	ErrNoKey = errors.New("no key linked to entity")

	// ErrUnsupported matches every *UnsupportedError.
	ErrUnsupported = errors.New("unsupported key vault operation")
)

// CredentialError reports a failure to obtain an access token.
type CredentialError struct {
	Scope string
	Err   error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("acquire token for %s: %v", e.Scope, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// RequestError reports a failed vault round trip: a transport failure, a
// non-success status or a body that could not be decoded.
type RequestError struct {
	Op         string // "get", "sign" or "verify"
	Method     string
	URL        string
	StatusCode int // 0 when no response was received
	Body       []byte
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0 && !isSuccess(e.StatusCode):
		return fmt.Sprintf("%s %s %s: status %d: %s", e.Op, e.Method, e.URL, e.StatusCode, bodySnippet(e.Body))
	case e.Err != nil:
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Method, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s %s: request failed", e.Op, e.Method, e.URL)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UnsupportedError reports an operation that does not apply to an entity
// kind, such as asking a Key for its secret.
type UnsupportedError struct {
	Op        string
	Reference string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported for %s", e.Op, e.Reference)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func bodySnippet(body []byte) string {
	const limit = 512
	if len(body) == 0 {
		return "<empty body>"
	}
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
