package entity

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/systmms/kvref/pkg/reference"
)

// KeyData is a fetched vault key. The key material is the JWK-shaped "key"
// object of the response (kid, kty, key_ops, n, e, crv, x, y, ...).
type KeyData struct {
	key        map[string]any
	attributes Attributes
	tags       Tags
}

type keyPayload struct {
	Key        map[string]any `json:"key"`
	Attributes Attributes     `json:"attributes,omitempty"`
	Tags       Tags           `json:"tags,omitempty"`
}

// DecodeKeyData builds KeyData from a vault key response body.
func DecodeKeyData(body []byte) (*KeyData, error) {
	var p keyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrMalformedData, err)
	}
	if p.Key == nil {
		return nil, fmt.Errorf("%w: key: missing \"key\" object", ErrMalformedData)
	}
	return &KeyData{key: p.Key, attributes: p.Attributes, tags: p.Tags}, nil
}

func (k *KeyData) Kind() reference.Kind   { return reference.KindKey }
func (k *KeyData) Attributes() Attributes { return k.attributes.clone() }
func (k *KeyData) Tags() Tags             { return k.tags.clone() }

// Reference returns the reference named by the key's "kid".
func (k *KeyData) Reference() (reference.Reference, error) {
	return reference.ParseAs(reference.KindKey, k.Kid())
}

// Kid returns the key identifier URI.
func (k *KeyData) Kid() string {
	s, _ := k.key["kid"].(string)
	return s
}

// Kty returns the JWK key type, e.g. "RSA" or "EC".
func (k *KeyData) Kty() string {
	s, _ := k.key["kty"].(string)
	return s
}

// KeyOps returns the operations the key permits.
func (k *KeyData) KeyOps() []string {
	raw, _ := k.key["key_ops"].([]any)
	ops := make([]string, 0, len(raw))
	for _, op := range raw {
		if s, ok := op.(string); ok {
			ops = append(ops, s)
		}
	}
	return ops
}

// Get returns a copy of one field of the key material.
func (k *KeyData) Get(name string) (any, bool) {
	v, ok := k.key[name]
	return cloneValue(v), ok
}

// Has reports whether the key material has a non-null field.
func (k *KeyData) Has(name string) bool {
	v, ok := k.key[name]
	return ok && v != nil
}

// Map returns a copy of the key material.
func (k *KeyData) Map() map[string]any {
	return cloneMap(k.key)
}

// All iterates the key material in key order.
func (k *KeyData) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, name := range slices.Sorted(maps.Keys(k.key)) {
			if !yield(name, cloneValue(k.key[name])) {
				return
			}
		}
	}
}

// Set always fails: the vault is the source of truth.
func (k *KeyData) Set(string, any) error {
	return fmt.Errorf("set key field: %w", ErrReadOnly)
}

// Delete always fails: the vault is the source of truth.
func (k *KeyData) Delete(string) error {
	return fmt.Errorf("delete key field: %w", ErrReadOnly)
}

func (k *KeyData) MarshalJSON() ([]byte, error) {
	return json.Marshal(keyPayload{Key: k.key, Attributes: k.attributes, Tags: k.tags})
}

func (k *KeyData) UnmarshalJSON(b []byte) error {
	d, err := DecodeKeyData(b)
	if err != nil {
		return err
	}
	*k = *d
	return nil
}
