package entity

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/systmms/kvref/pkg/reference"
)

// Content types the vault uses for secrets it manages.
const (
	ContentTypeJSON   = "application/json"
	ContentTypePEM    = "application/x-pem-file"
	ContentTypePKCS12 = "application/x-pkcs12"
)

// SecretData is a fetched vault secret. When the content type names JSON the
// value is parsed once at construction and exposed through Structured,
// Lookup and All.
type SecretData struct {
	value       string
	id          string
	kid         string
	contentType string
	managed     bool
	tags        Tags
	attributes  Attributes

	structured any
}

type secretPayload struct {
	Value       *string    `json:"value"`
	ID          string     `json:"id,omitempty"`
	Kid         string     `json:"kid,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	Managed     bool       `json:"managed,omitempty"`
	Tags        Tags       `json:"tags,omitempty"`
	Attributes  Attributes `json:"attributes,omitempty"`
}

// NewSecretData builds a SecretData that did not come from the vault, such as
// a literal value or a test fixture.
func NewSecretData(value, contentType string) (*SecretData, error) {
	return newSecretData(secretPayload{Value: &value, ContentType: contentType})
}

// DecodeSecretData builds SecretData from a vault secret response body.
func DecodeSecretData(body []byte) (*SecretData, error) {
	var p secretPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: secret: %v", ErrMalformedData, err)
	}
	if p.Value == nil {
		return nil, fmt.Errorf("%w: secret: missing \"value\"", ErrMalformedData)
	}
	return newSecretData(p)
}

func newSecretData(p secretPayload) (*SecretData, error) {
	s := &SecretData{
		value:       *p.Value,
		id:          p.ID,
		kid:         p.Kid,
		contentType: p.ContentType,
		managed:     p.Managed,
		tags:        p.Tags,
		attributes:  p.Attributes,
	}
	if s.IsJSON() {
		if err := json.Unmarshal([]byte(s.value), &s.structured); err != nil {
			return nil, fmt.Errorf("%w: secret %s: value is not valid JSON: %v", ErrMalformedData, s.id, err)
		}
	}
	return s, nil
}

func (s *SecretData) Kind() reference.Kind   { return reference.KindSecret }
func (s *SecretData) Attributes() Attributes { return s.attributes.clone() }
func (s *SecretData) Tags() Tags             { return s.tags.clone() }

// Value returns the raw secret string.
func (s *SecretData) Value() string { return s.value }

func (s *SecretData) ID() string          { return s.id }
func (s *SecretData) Kid() string         { return s.kid }
func (s *SecretData) ContentType() string { return s.contentType }

// Managed reports whether the secret backs a certificate.
func (s *SecretData) Managed() bool { return s.managed }

func (s *SecretData) String() string { return s.value }

func (s *SecretData) IsJSON() bool   { return strings.Contains(s.contentType, ContentTypeJSON) }
func (s *SecretData) IsPEM() bool    { return strings.Contains(s.contentType, ContentTypePEM) }
func (s *SecretData) IsPKCS12() bool { return strings.Contains(s.contentType, ContentTypePKCS12) }

// Reference returns the reference named by the secret's id.
func (s *SecretData) Reference() (reference.Reference, error) {
	return reference.ParseAs(reference.KindSecret, s.id)
}

// KeyReference returns the linked key. ok is false when the secret carries no
// "kid".
func (s *SecretData) KeyReference() (ref reference.Reference, ok bool, err error) {
	if s.kid == "" {
		return reference.Reference{}, false, nil
	}
	ref, err = reference.ParseAs(reference.KindKey, s.kid)
	if err != nil {
		return reference.Reference{}, false, err
	}
	return ref, true, nil
}

// Structured returns a copy of the parsed JSON value, or nil for non-JSON
// secrets.
func (s *SecretData) Structured() any {
	return cloneValue(s.structured)
}

// Lookup returns a top-level field of a JSON object secret.
func (s *SecretData) Lookup(key string) (any, bool) {
	obj, ok := s.structured.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return cloneValue(v), ok
}

// Fields returns a copy of the top-level fields of a JSON object secret.
func (s *SecretData) Fields() map[string]any {
	obj, _ := s.structured.(map[string]any)
	return cloneMap(obj)
}

// All iterates the top-level fields of a JSON object secret in key order.
func (s *SecretData) All() iter.Seq2[string, any] {
	obj, _ := s.structured.(map[string]any)
	return func(yield func(string, any) bool) {
		for _, k := range slices.Sorted(maps.Keys(obj)) {
			if !yield(k, cloneValue(obj[k])) {
				return
			}
		}
	}
}

// Len returns the number of top-level entries of a JSON object or array secret.
func (s *SecretData) Len() int {
	switch v := s.structured.(type) {
	case map[string]any:
		return len(v)
	case []any:
		return len(v)
	default:
		return 0
	}
}

// Set always fails: the vault is the source of truth.
func (s *SecretData) Set(string, any) error {
	return fmt.Errorf("set secret field: %w", ErrReadOnly)
}

func (s *SecretData) MarshalJSON() ([]byte, error) {
	return json.Marshal(secretPayload{
		Value:       &s.value,
		ID:          s.id,
		Kid:         s.kid,
		ContentType: s.contentType,
		Managed:     s.managed,
		Tags:        s.tags,
		Attributes:  s.attributes,
	})
}

func (s *SecretData) UnmarshalJSON(b []byte) error {
	d, err := DecodeSecretData(b)
	if err != nil {
		return err
	}
	*s = *d
	return nil
}
