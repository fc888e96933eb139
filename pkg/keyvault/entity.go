package keyvault

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/kvref/pkg/entity"
	"github.com/systmms/kvref/pkg/reference"
)

// Entity is a lazily fetched view of one vault entity. The data is read
// through the Client on first use and kept for the lifetime of the Entity;
// failed reads are retried on the next call.
type Entity struct {
	client *Client
	ref    reference.Reference

	mu   sync.Mutex
	data entity.Data
}

// Entity returns a façade for ref without contacting the vault.
func (c *Client) Entity(ref any) (*Entity, error) {
	r, err := reference.Parse(ref)
	if err != nil {
		return nil, err
	}
	return newEntity(c, r), nil
}

func newEntity(c *Client, ref reference.Reference) *Entity {
	return &Entity{client: c, ref: ref}
}

func (e *Entity) Kind() reference.Kind           { return e.ref.Kind() }
func (e *Entity) Reference() reference.Reference { return e.ref }
func (e *Entity) Client() *Client                { return e.client }

// Data returns the entity's data, fetching it on first use.
func (e *Entity) Data(ctx context.Context) (entity.Data, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data != nil {
		return e.data, nil
	}

	var (
		data entity.Data
		err  error
	)
	switch e.ref.Kind() {
	case reference.KindKey:
		data, err = e.client.KeyData(ctx, e.ref)
	case reference.KindSecret:
		data, err = e.client.SecretData(ctx, e.ref)
	case reference.KindCertificate:
		data, err = e.client.CertificateData(ctx, e.ref)
	default:
		return nil, e.unsupported("data")
	}
	if err != nil {
		return nil, err
	}
	e.data = data
	return data, nil
}

// KeyData returns the data of a Key entity.
func (e *Entity) KeyData(ctx context.Context) (*entity.KeyData, error) {
	if e.Kind() != reference.KindKey {
		return nil, e.unsupported("key data")
	}
	data, err := e.Data(ctx)
	if err != nil {
		return nil, err
	}
	return data.(*entity.KeyData), nil
}

// SecretData returns the data of a Secret entity.
func (e *Entity) SecretData(ctx context.Context) (*entity.SecretData, error) {
	if e.Kind() != reference.KindSecret {
		return nil, e.unsupported("secret data")
	}
	data, err := e.Data(ctx)
	if err != nil {
		return nil, err
	}
	return data.(*entity.SecretData), nil
}

// CertificateData returns the data of a Certificate entity.
func (e *Entity) CertificateData(ctx context.Context) (*entity.CertificateData, error) {
	if e.Kind() != reference.KindCertificate {
		return nil, e.unsupported("certificate data")
	}
	data, err := e.Data(ctx)
	if err != nil {
		return nil, err
	}
	return data.(*entity.CertificateData), nil
}

// ResolvedValue returns what a reference to this entity stands for: the key
// data for keys, the parsed JSON document or the raw string for secrets, and
// the certificate data for certificates.
func (e *Entity) ResolvedValue(ctx context.Context) (any, error) {
	data, err := e.Data(ctx)
	if err != nil {
		return nil, err
	}
	if secret, ok := data.(*entity.SecretData); ok {
		if secret.IsJSON() {
			return secret.Structured(), nil
		}
		return secret.Value(), nil
	}
	return data, nil
}

// String returns the raw value of a Secret entity.
func (e *Entity) String(ctx context.Context) (string, error) {
	secret, err := e.SecretData(ctx)
	if err != nil {
		return "", err
	}
	return secret.Value(), nil
}

// KeyReference returns the key linked to this entity. ok is false for a
// secret without a key.
func (e *Entity) KeyReference(ctx context.Context) (ref reference.Reference, ok bool, err error) {
	switch e.Kind() {
	case reference.KindKey:
		return e.ref, true, nil
	case reference.KindSecret:
		secret, err := e.SecretData(ctx)
		if err != nil {
			return reference.Reference{}, false, err
		}
		return secret.KeyReference()
	case reference.KindCertificate:
		cert, err := e.CertificateData(ctx)
		if err != nil {
			return reference.Reference{}, false, err
		}
		if cert.Kid() == "" {
			ref, err := e.ref.Convert(reference.KindKey)
			return ref, err == nil, err
		}
		ref, err := cert.KeyReference()
		return ref, err == nil, err
	default:
		return reference.Reference{}, false, e.unsupported("key reference")
	}
}

// SecretReference returns the secret behind this entity. Keys have none.
func (e *Entity) SecretReference(ctx context.Context) (reference.Reference, error) {
	switch e.Kind() {
	case reference.KindSecret:
		return e.ref, nil
	case reference.KindCertificate:
		cert, err := e.CertificateData(ctx)
		if err != nil {
			return reference.Reference{}, err
		}
		if cert.Sid() == "" {
			return e.ref.Convert(reference.KindSecret)
		}
		return cert.SecretReference()
	default:
		return reference.Reference{}, e.unsupported("secret reference")
	}
}

// Key returns the linked key as an Entity sharing this Client. It returns
// nil, nil for a secret without a key.
func (e *Entity) Key(ctx context.Context) (*Entity, error) {
	if e.Kind() == reference.KindKey {
		return e, nil
	}
	ref, ok, err := e.KeyReference(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return newEntity(e.client, ref), nil
}

// Secret returns the secret behind this entity as an Entity sharing this Client.
func (e *Entity) Secret(ctx context.Context) (*Entity, error) {
	if e.Kind() == reference.KindSecret {
		return e, nil
	}
	ref, err := e.SecretReference(ctx)
	if err != nil {
		return nil, err
	}
	return newEntity(e.client, ref), nil
}

// Sign signs data with the linked key. It fails with ErrNoKey when there is none.
func (e *Entity) Sign(ctx context.Context, alg string, data []byte) (entity.SignResult, error) {
	key, err := e.Key(ctx)
	if err != nil {
		return entity.SignResult{}, err
	}
	if key == nil {
		return entity.SignResult{}, fmt.Errorf("sign with %s: %w", e.ref.ReferenceString(), ErrNoKey)
	}
	return e.client.Sign(ctx, key.ref, alg, data)
}

// Verify checks a signature with the linked key. It fails with ErrNoKey when
// there is none.
func (e *Entity) Verify(ctx context.Context, alg string, data []byte, signature string) (bool, error) {
	key, err := e.Key(ctx)
	if err != nil {
		return false, err
	}
	if key == nil {
		return false, fmt.Errorf("verify with %s: %w", e.ref.ReferenceString(), ErrNoKey)
	}
	return e.client.Verify(ctx, key.ref, alg, data, signature)
}

func (e *Entity) unsupported(op string) error {
	return &UnsupportedError{Op: op, Reference: e.ref.ReferenceString()}
}
