// Package entity holds immutable snapshots of the data Azure Key Vault returns
// for keys, secrets and certificates.
//
// Values are built from vault response bodies with DecodeKeyData,
// DecodeSecretData and DecodeCertificateData. Each model marshals back to the
// same JSON shape, which is what the external cache stores.
package entity

import (
	"encoding/json"
	"errors"
	"maps"
	"time"

	"github.com/systmms/kvref/pkg/reference"
)

var (
	// ErrReadOnly is returned by every mutation attempt on fetched data.
	ErrReadOnly = errors.New("key vault entity data is read-only")

	// ErrMalformedData is returned when a response body does not have the
	// shape of the requested entity.
	ErrMalformedData = errors.New("malformed key vault entity data")
)

// Data is the behaviour shared by KeyData, SecretData and CertificateData.
type Data interface {
	Kind() reference.Kind
	Reference() (reference.Reference, error)
	Attributes() Attributes
	Tags() Tags
}

// Tristate is a boolean that may be unknown. Time helpers return Unknown when
// the vault did not report the attribute they depend on.
type Tristate int8

const (
	Unknown Tristate = iota
	False
	True
)

func tristate(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// Known reports whether t is True or False.
func (t Tristate) Known() bool {
	return t != Unknown
}

// Bool returns the value and whether it is known.
func (t Tristate) Bool() (value, known bool) {
	return t == True, t != Unknown
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Attributes is the vault "attributes" object. Recognized keys are enabled,
// created, updated, nbf and exp (unix seconds); any other key is passed
// through untouched.
type Attributes map[string]any

// Get returns a copy of the raw attribute value.
func (a Attributes) Get(name string) (any, bool) {
	v, ok := a[name]
	return cloneValue(v), ok
}

// Has reports whether the attribute is present.
func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// All returns a copy of the attributes.
func (a Attributes) All() map[string]any {
	return cloneMap(a)
}

// Enabled reports the "enabled" flag. A missing or non-boolean flag is false.
func (a Attributes) Enabled() bool {
	b, _ := a["enabled"].(bool)
	return b
}

func (a Attributes) CreatedAt() (time.Time, bool) { return a.timestamp("created") }
func (a Attributes) UpdatedAt() (time.Time, bool) { return a.timestamp("updated") }
func (a Attributes) NotBefore() (time.Time, bool) { return a.timestamp("nbf") }
func (a Attributes) ExpiresAt() (time.Time, bool) { return a.timestamp("exp") }

// IsExpired reports whether at is after the expiry. Unknown without "exp".
func (a Attributes) IsExpired(at time.Time) Tristate {
	exp, ok := a.ExpiresAt()
	if !ok {
		return Unknown
	}
	return tristate(at.After(exp))
}

// IsActive reports whether the entity is usable at the given time. An expired
// entity is never active. Without "nbf" the result is True only when the
// expiry is known.
func (a Attributes) IsActive(at time.Time) Tristate {
	expired := a.IsExpired(at)
	if expired == True {
		return False
	}
	nbf, ok := a.NotBefore()
	if !ok {
		if expired == Unknown {
			return Unknown
		}
		return True
	}
	return tristate(at.After(nbf))
}

func (a Attributes) timestamp(name string) (time.Time, bool) {
	var secs int64
	switch v := a[name].(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		secs = n
	default:
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// Tags is the free-form vault "tags" object.
type Tags map[string]string

// Get returns the tag value.
func (t Tags) Get(name string) (string, bool) {
	v, ok := t[name]
	return v, ok
}

// Has reports whether the tag is present.
func (t Tags) Has(name string) bool {
	_, ok := t[name]
	return ok
}

// All returns a copy of the tags.
func (t Tags) All() map[string]string {
	return maps.Clone(t)
}
