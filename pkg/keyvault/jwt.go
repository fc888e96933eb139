package keyvault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/systmms/kvref/pkg/reference"
)

// TokenAlgorithms lists the JWT algorithms a CertificateTokenBuilder accepts.
// Vault signing always pre-hashes with SHA-256.
var TokenAlgorithms = []string{"RS256", "PS256", "ES256"}

// vaultSigningMethod is a jwt.SigningMethod whose signatures are produced and
// checked by a vault key. The key argument must be a vaultKey.
type vaultSigningMethod struct {
	alg string
}

type vaultKey struct {
	ctx context.Context
	key *Entity
}

func (m *vaultSigningMethod) Alg() string {
	return m.alg
}

func (m *vaultSigningMethod) Sign(signingString string, key interface{}) ([]byte, error) {
	vk, ok := key.(vaultKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	res, err := vk.key.Sign(vk.ctx, m.alg, []byte(signingString))
	if err != nil {
		return nil, err
	}
	return base64.RawURLEncoding.DecodeString(res.Value)
}

func (m *vaultSigningMethod) Verify(signingString string, sig []byte, key interface{}) error {
	vk, ok := key.(vaultKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	valid, err := vk.key.Verify(vk.ctx, m.alg, []byte(signingString), base64.RawURLEncoding.EncodeToString(sig))
	if err != nil {
		return err
	}
	if !valid {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// CertificateTokenBuilder issues JWTs signed by a certificate's key. The
// header carries the certificate thumbprint as x5t so relying parties can
// select the matching public certificate.
type CertificateTokenBuilder struct {
	cert   *Entity
	method *vaultSigningMethod
}

// NewCertificateTokenBuilder creates a builder for a Certificate entity.
func NewCertificateTokenBuilder(cert *Entity, alg string) (*CertificateTokenBuilder, error) {
	if cert == nil || cert.Kind() != reference.KindCertificate {
		return nil, errors.New("token builder requires a certificate entity")
	}
	if !slices.Contains(TokenAlgorithms, alg) {
		return nil, fmt.Errorf("unsupported token algorithm %q (supported: %s)", alg, strings.Join(TokenAlgorithms, ", "))
	}
	return &CertificateTokenBuilder{cert: cert, method: &vaultSigningMethod{alg: alg}}, nil
}

// Build signs claims and returns the compact token.
func (b *CertificateTokenBuilder) Build(ctx context.Context, claims jwt.Claims) (string, error) {
	data, err := b.cert.CertificateData(ctx)
	if err != nil {
		return "", err
	}
	key, err := b.signingKey(ctx)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(b.method, claims)
	if x5t := data.X5t(); x5t != "" {
		token.Header["x5t"] = x5t
	}
	signed, err := token.SignedString(vaultKey{ctx: ctx, key: key})
	if err != nil {
		return "", fmt.Errorf("sign token with %s: %w", b.cert.Reference().ReferenceString(), err)
	}
	return signed, nil
}

// VerifyToken checks the token's signature with the certificate's key and
// validates the registered claims into claims.
func (b *CertificateTokenBuilder) VerifyToken(ctx context.Context, tokenString string, claims jwt.Claims) error {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return jwt.ErrTokenMalformed
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{b.method.alg}))
	token, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return err
	}
	if alg, _ := token.Header["alg"].(string); alg != b.method.alg {
		return fmt.Errorf("%w: unexpected algorithm %q", jwt.ErrTokenSignatureInvalid, alg)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("%w: %v", jwt.ErrTokenMalformed, err)
	}
	key, err := b.signingKey(ctx)
	if err != nil {
		return err
	}
	if err := b.method.Verify(parts[0]+"."+parts[1], sig, vaultKey{ctx: ctx, key: key}); err != nil {
		return fmt.Errorf("%w: %w", jwt.ErrTokenSignatureInvalid, err)
	}
	return jwt.NewValidator().Validate(claims)
}

func (b *CertificateTokenBuilder) signingKey(ctx context.Context) (*Entity, error) {
	key, err := b.cert.Key(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("token key for %s: %w", b.cert.Reference().ReferenceString(), ErrNoKey)
	}
	return key, nil
}
