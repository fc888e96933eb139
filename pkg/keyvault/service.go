package keyvault

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/systmms/kvref/pkg/reference"
)

// CredentialSource supplies named Azure credentials to a Service.
type CredentialSource interface {
	Credential(name string) (azcore.TokenCredential, error)
	DefaultCredential() string
}

// Service is the entry point for resolving references. It keeps one Client
// per credential name; all Clients share the options given to NewService.
type Service struct {
	creds      CredentialSource
	clientOpts []ClientOption

	mu      sync.Mutex
	clients map[string]*Client
}

// CallOption adjusts a single Service call.
type CallOption func(*callOptions)

type callOptions struct {
	credential string
}

// WithCredential selects the named credential instead of the default.
func WithCredential(name string) CallOption {
	return func(o *callOptions) { o.credential = name }
}

// NewService creates a Service. opts are applied to every Client it creates.
func NewService(creds CredentialSource, opts ...ClientOption) *Service {
	return &Service{
		creds:      creds,
		clientOpts: opts,
		clients:    make(map[string]*Client),
	}
}

// Client returns the Client for the named credential, creating it on first
// use. An empty name selects the default credential.
func (s *Service) Client(name string) (*Client, error) {
	if name == "" {
		name = s.creds.DefaultCredential()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[name]; ok {
		return client, nil
	}

	cred, err := s.creds.Credential(name)
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", name, err)
	}
	client, err := NewClient(cred, s.clientOpts...)
	if err != nil {
		return nil, err
	}
	s.clients[name] = client
	return client, nil
}

func (s *Service) clientFor(opts []CallOption) (*Client, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.Client(o.credential)
}

// Resolve replaces a vault reference with the value it points at. Typed
// reference strings ("@Microsoft.KeyVault(...)") and Reference values are
// resolved; every other value, including plain URI strings, is returned
// unchanged.
func (s *Service) Resolve(ctx context.Context, value any, opts ...CallOption) (any, error) {
	var ref reference.Reference
	switch v := value.(type) {
	case string:
		if !reference.IsReferenceString(v) {
			return value, nil
		}
		parsed, err := reference.FromString(v)
		if err != nil {
			return nil, err
		}
		ref = parsed
	case reference.Reference:
		ref = v
	case *reference.Reference:
		if v == nil {
			return value, nil
		}
		ref = *v
	default:
		return value, nil
	}

	e, err := s.Get(ref, opts...)
	if err != nil {
		return nil, err
	}
	return e.ResolvedValue(ctx)
}

// ResolveKeys resolves the values found at the given dotted paths of values,
// in place. Paths that do not exist are skipped. Numeric path segments index
// into slices.
func (s *Service) ResolveKeys(ctx context.Context, values map[string]any, paths []string, opts ...CallOption) error {
	for _, path := range paths {
		current, ok := lookupPath(values, path)
		if !ok {
			continue
		}
		resolved, err := s.Resolve(ctx, current, opts...)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		setPath(values, path, resolved)
	}
	return nil
}

// Reference parses v into a Reference.
func (s *Service) Reference(v any) (reference.Reference, error) {
	return reference.Parse(v)
}

// Get returns an Entity for any reference shape.
func (s *Service) Get(ref any, opts ...CallOption) (*Entity, error) {
	r, err := reference.Parse(ref)
	if err != nil {
		return nil, err
	}
	client, err := s.clientFor(opts)
	if err != nil {
		return nil, err
	}
	return newEntity(client, r), nil
}

// Certificate returns a Certificate entity. References of another kind are
// re-typed.
func (s *Service) Certificate(ref any, opts ...CallOption) (*Entity, error) {
	r, err := reference.ParseAs(reference.KindCertificate, ref)
	if err != nil {
		return nil, err
	}
	return s.Get(r, opts...)
}

// Secret returns a Secret entity. A certificate reference yields the
// certificate's secret; a key reference is an error.
func (s *Service) Secret(ctx context.Context, ref any, opts ...CallOption) (*Entity, error) {
	e, err := s.Get(ref, opts...)
	if err != nil {
		return nil, err
	}
	switch e.Kind() {
	case reference.KindSecret:
		return e, nil
	case reference.KindCertificate:
		return e.Secret(ctx)
	default:
		return nil, &UnsupportedError{Op: "secret", Reference: e.ref.ReferenceString()}
	}
}

// Key returns a Key entity. Secret and certificate references yield their
// linked key; the result is nil, nil for a secret without one.
func (s *Service) Key(ctx context.Context, ref any, opts ...CallOption) (*Entity, error) {
	e, err := s.Get(ref, opts...)
	if err != nil {
		return nil, err
	}
	return e.Key(ctx)
}

func lookupPath(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// setPath replaces an existing value; it never creates intermediate nodes.
func setPath(root map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	var parent any = root
	if len(segments) > 1 {
		var ok bool
		if parent, ok = lookupPath(root, strings.Join(segments[:len(segments)-1], ".")); !ok {
			return
		}
	}
	last := segments[len(segments)-1]
	switch node := parent.(type) {
	case map[string]any:
		node[last] = value
	case []any:
		if i, err := strconv.Atoi(last); err == nil && i >= 0 && i < len(node) {
			node[i] = value
		}
	}
}
