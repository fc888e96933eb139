package entity

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/systmms/kvref/pkg/reference"
)

// CertificateData is a fetched vault certificate. A certificate always has a
// key half (kid) and a secret half (sid) under the same name.
type CertificateData struct {
	id         string
	kid        string
	sid        string
	x5t        string
	cer        string
	policy     *CertificatePolicyData
	attributes Attributes
	tags       Tags
}

// CertificatePolicyData is the management policy attached to a certificate.
// Everything except the id and attributes is passed through as returned.
type CertificatePolicyData struct {
	ID              string           `json:"id"`
	Issuer          map[string]any   `json:"issuer,omitempty"`
	KeyProps        map[string]any   `json:"key_props,omitempty"`
	SecretProps     map[string]any   `json:"secret_props,omitempty"`
	X509Props       map[string]any   `json:"x509_props,omitempty"`
	LifetimeActions []map[string]any `json:"lifetime_actions,omitempty"`
	Attributes      Attributes       `json:"attributes,omitempty"`
}

type certificatePayload struct {
	ID         string                 `json:"id,omitempty"`
	Kid        string                 `json:"kid,omitempty"`
	Sid        string                 `json:"sid,omitempty"`
	X5t        string                 `json:"x5t,omitempty"`
	Cer        string                 `json:"cer,omitempty"`
	Policy     *CertificatePolicyData `json:"policy,omitempty"`
	Attributes Attributes             `json:"attributes,omitempty"`
	Tags       Tags                   `json:"tags,omitempty"`
}

// DecodeCertificateData builds CertificateData from a vault certificate
// response body.
func DecodeCertificateData(body []byte) (*CertificateData, error) {
	var p certificatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrMalformedData, err)
	}
	return &CertificateData{
		id:         p.ID,
		kid:        p.Kid,
		sid:        p.Sid,
		x5t:        p.X5t,
		cer:        p.Cer,
		policy:     p.Policy,
		attributes: p.Attributes,
		tags:       p.Tags,
	}, nil
}

func (c *CertificateData) Kind() reference.Kind   { return reference.KindCertificate }
func (c *CertificateData) Attributes() Attributes { return c.attributes.clone() }
func (c *CertificateData) Tags() Tags             { return c.tags.clone() }

func (c *CertificateData) ID() string  { return c.id }
func (c *CertificateData) Kid() string { return c.kid }
func (c *CertificateData) Sid() string { return c.sid }

// X5t returns the base64url SHA-1 thumbprint of the certificate.
func (c *CertificateData) X5t() string { return c.x5t }

// Cer returns the base64 encoded DER certificate.
func (c *CertificateData) Cer() string { return c.cer }

// Policy returns a copy of the certificate policy, or nil when the response
// had none.
func (c *CertificateData) Policy() *CertificatePolicyData { return c.policy.clone() }

func (c *CertificateData) Reference() (reference.Reference, error) {
	return reference.ParseAs(reference.KindCertificate, c.id)
}

func (c *CertificateData) KeyReference() (reference.Reference, error) {
	return reference.ParseAs(reference.KindKey, c.kid)
}

func (c *CertificateData) SecretReference() (reference.Reference, error) {
	return reference.ParseAs(reference.KindSecret, c.sid)
}

// X509 parses the public certificate.
func (c *CertificateData) X509() (*x509.Certificate, error) {
	if c.cer == "" {
		return nil, fmt.Errorf("%w: certificate %s has no \"cer\"", ErrMalformedData, c.id)
	}
	der, err := base64.StdEncoding.DecodeString(c.cer)
	if err != nil {
		der, err = base64.RawURLEncoding.DecodeString(c.cer)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: certificate %s: decode cer: %v", ErrMalformedData, c.id, err)
	}
	return x509.ParseCertificate(der)
}

func (c *CertificateData) MarshalJSON() ([]byte, error) {
	return json.Marshal(certificatePayload{
		ID:         c.id,
		Kid:        c.kid,
		Sid:        c.sid,
		X5t:        c.x5t,
		Cer:        c.cer,
		Policy:     c.policy,
		Attributes: c.attributes,
		Tags:       c.tags,
	})
}

func (c *CertificateData) UnmarshalJSON(b []byte) error {
	d, err := DecodeCertificateData(b)
	if err != nil {
		return err
	}
	*c = *d
	return nil
}

// SignResult is the outcome of a remote sign operation.
type SignResult struct {
	KeyReference reference.Reference
	// Kid is the key version that produced the signature.
	Kid string
	// Value is the base64url encoded signature.
	Value string
}
