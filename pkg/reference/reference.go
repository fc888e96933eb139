// Package reference parses and normalizes pointers to Azure Key Vault entities.
//
// A vault entity (key, secret or certificate) can be addressed in several ways:
//
//	https://my-vault.vault.azure.net/secrets/db-password/0123abcd
//	@Microsoft.KeyVault(SecretUri=https://my-vault.vault.azure.net/secrets/db-password/)
//	@Microsoft.KeyVault(VaultName=my-vault;SecretName=db-password)
//	Properties{"VaultName": "my-vault", "SecretName": "db-password"}
//
// All of them normalize to the same Reference, which carries the entity kind
// and the entity URL. The cache key, authorization scope and canonical
// reference string are derived from that URL only.
package reference

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultVaultDomain is the DNS suffix used when a reference is built from a
// vault name instead of a full URI.
const DefaultVaultDomain = "vault.azure.net"

// Kind identifies the type of vault entity a Reference points at.
type Kind int

const (
	KindUnknown Kind = iota
	KindKey
	KindSecret
	KindCertificate
)

// kindFields holds the property names and path segment used by one Kind.
type kindFields struct {
	name       string
	plural     string
	uriField   string
	nameField  string
	versionKey string
}

var kinds = map[Kind]kindFields{
	KindKey: {
		name:       "Key",
		plural:     "keys",
		uriField:   "KeyUri",
		nameField:  "KeyName",
		versionKey: "KeyVersion",
	},
	KindSecret: {
		name:       "Secret",
		plural:     "secrets",
		uriField:   "SecretUri",
		nameField:  "SecretName",
		versionKey: "SecretVersion",
	},
	KindCertificate: {
		name:       "Certificate",
		plural:     "certificates",
		uriField:   "CertificateUri",
		nameField:  "CertificateName",
		versionKey: "CertificateVersion",
	},
}

// String returns the singular entity name ("Key", "Secret", "Certificate").
func (k Kind) String() string {
	if f, ok := kinds[k]; ok {
		return f.name
	}
	return "Unknown"
}

// Plural returns the path segment for the kind ("keys", "secrets", "certificates").
func (k Kind) Plural() string {
	return kinds[k].plural
}

// URIField returns the typed-reference field holding a full entity URI.
func (k Kind) URIField() string {
	return kinds[k].uriField
}

// KindFromSegment maps a URI path segment to a Kind.
func KindFromSegment(segment string) (Kind, bool) {
	for k, f := range kinds {
		if f.plural == segment {
			return k, true
		}
	}
	return KindUnknown, false
}

// Reference is an immutable pointer to one vault entity.
type Reference struct {
	kind Kind
	uri  *url.URL
}

// New builds a Reference of the given kind from a parsed URL. The URL is
// copied, so later changes to u do not affect the Reference.
func New(kind Kind, u *url.URL) (Reference, error) {
	if u == nil {
		return Reference{}, &Error{Op: "new", Reason: ErrMalformed, Detail: "missing URI"}
	}
	if _, ok := kinds[kind]; !ok {
		return Reference{}, &Error{Op: "new", Input: u.String(), Reason: ErrUnknownEntity}
	}
	if u.Host == "" {
		return Reference{}, &Error{Op: "new", Input: u.String(), Reason: ErrMalformed, Detail: "missing vault host"}
	}
	cp := *u
	return Reference{kind: kind, uri: &cp}, nil
}

// IsZero reports whether r is the zero Reference.
func (r Reference) IsZero() bool {
	return r.uri == nil
}

// Kind returns the entity kind.
func (r Reference) Kind() Kind {
	return r.kind
}

// URL returns a copy of the entity URL.
func (r Reference) URL() *url.URL {
	if r.uri == nil {
		return nil
	}
	cp := *r.uri
	return &cp
}

// String returns the entity URI.
func (r Reference) String() string {
	if r.uri == nil {
		return ""
	}
	return r.uri.String()
}

// Host returns the vault host, e.g. "my-vault.vault.azure.net".
func (r Reference) Host() string {
	if r.uri == nil {
		return ""
	}
	return r.uri.Host
}

// VaultName returns the vault name, which is the first label of the host.
func (r Reference) VaultName() string {
	name, _, _ := strings.Cut(r.Host(), ".")
	return name
}

// EntityType returns the first path segment ("keys", "secrets", "certificates").
func (r Reference) EntityType() string {
	return r.pathPart(0)
}

// Name returns the entity name.
func (r Reference) Name() string {
	return r.pathPart(1)
}

// Version returns the entity version, or "" when the reference points at the
// latest version.
func (r Reference) Version() string {
	return r.pathPart(2)
}

func (r Reference) pathPart(index int) string {
	if r.uri == nil {
		return ""
	}
	parts := strings.Split(r.uri.Path, "/")
	if len(parts) > 0 && parts[0] == "" {
		index++
	}
	if index >= len(parts) {
		return ""
	}
	return parts[index]
}

// CacheKey returns "host/path" without the leading slash of the path. It is
// stable across fetches and is used for both cache tiers.
func (r Reference) CacheKey() string {
	if r.uri == nil {
		return ""
	}
	return r.uri.Host + "/" + strings.TrimLeft(r.uri.Path, "/")
}

// Scope returns the authorization scope for the vault host, e.g.
// "https://my-vault.vault.azure.net/.default".
func (r Reference) Scope() string {
	scheme := "https"
	if r.uri != nil && r.uri.Scheme != "" {
		scheme = r.uri.Scheme
	}
	return fmt.Sprintf("%s://%s/.default", scheme, r.Host())
}

// ReferenceString renders the canonical typed reference, always using the
// single full-URI field form.
func (r Reference) ReferenceString() string {
	return fmt.Sprintf("@Microsoft.KeyVault(%s=%s)", r.kind.URIField(), r.String())
}

// SignURL returns the key's sign endpoint. ok is false for non-key references.
func (r Reference) SignURL() (*url.URL, bool) {
	return r.operationURL("sign")
}

// VerifyURL returns the key's verify endpoint. ok is false for non-key references.
func (r Reference) VerifyURL() (*url.URL, bool) {
	return r.operationURL("verify")
}

func (r Reference) operationURL(op string) (*url.URL, bool) {
	if r.kind != KindKey || r.uri == nil {
		return nil, false
	}
	u := r.URL()
	u.Path = strings.TrimRight(u.Path, "/") + "/" + op
	u.RawPath = ""
	return u, true
}

// Convert re-derives r as another kind. Vault host, entity name and version
// are kept; the path prefix changes. Converting to the same kind returns r.
func (r Reference) Convert(kind Kind) (Reference, error) {
	if r.kind == kind {
		return r, nil
	}
	if r.uri == nil {
		return Reference{}, &Error{Op: "convert", Reason: ErrMalformed, Detail: "empty reference"}
	}
	u := &url.URL{
		Scheme: r.uri.Scheme,
		Host:   r.uri.Host,
		Path:   entityPath(kind, r.Name(), r.Version()),
	}
	return New(kind, u)
}

// Equal reports whether both references point at the same entity of the same kind.
func (r Reference) Equal(other Reference) bool {
	return r.kind == other.kind && r.String() == other.String()
}

func entityPath(kind Kind, name, version string) string {
	return "/" + kind.Plural() + "/" + name + "/" + version
}
