package keyvault_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kvref/pkg/keyvault"
	"github.com/systmms/kvref/pkg/reference"
)

type fakeSource struct {
	mu      sync.Mutex
	creds   map[string]*fakeCredential
	calls   map[string]int
	defName string
}

func newFakeSource(names ...string) *fakeSource {
	s := &fakeSource{creds: make(map[string]*fakeCredential), calls: make(map[string]int), defName: names[0]}
	for _, name := range names {
		s.creds[name] = &fakeCredential{}
	}
	return s
}

func (s *fakeSource) Credential(name string) (azcore.TokenCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	cred, ok := s.creds[name]
	if !ok {
		return nil, fmt.Errorf("unknown credential %s", name)
	}
	return cred, nil
}

func (s *fakeSource) DefaultCredential() string {
	return s.defName
}

func newTestService(t *testing.T, vault *fakeVault, names ...string) (*keyvault.Service, *fakeSource) {
	t.Helper()
	if len(names) == 0 {
		names = []string{"default"}
	}
	source := newFakeSource(names...)
	return keyvault.NewService(source, transportOptions(vault)), source
}

func TestServiceClientPerCredential(t *testing.T) {
	t.Parallel()

	svc, source := newTestService(t, newFakeVault(), "main", "ops")

	a, err := svc.Client("")
	require.NoError(t, err)
	b, err := svc.Client("main")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := svc.Client("ops")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 1, source.calls["main"])

	_, err = svc.Client("missing")
	assert.Error(t, err)
}

func TestServiceResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	vault := newFakeVault()
	vault.respond(secretPath, http.StatusOK, plainSecretBody)
	vault.respond(jsonSecretPath, http.StatusOK, jsonSecretBody)
	svc, _ := newTestService(t, vault)

	ref, err := reference.Parse(vaultHost + jsonSecretPath)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "reference string", value: "@Microsoft.KeyVault(VaultName=test-vault;SecretName=db-password)", want: "s3cret"},
		{name: "reference value", value: ref, want: map[string]any{"a": float64(1)}},
		{name: "reference pointer", value: &ref, want: map[string]any{"a": float64(1)}},
		{name: "plain string", value: "hello", want: "hello"},
		{name: "bare uri passes through", value: vaultHost + secretPath, want: vaultHost + secretPath},
		{name: "number", value: 42, want: 42},
		{name: "nil", value: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := svc.Resolve(ctx, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = svc.Resolve(ctx, "@Microsoft.KeyVault(Foo=bar)")
	assert.True(t, errors.Is(err, reference.ErrUnrecognizedProperties))
}

func TestServiceResolveKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	vault := newFakeVault()
	vault.respond(secretPath, http.StatusOK, plainSecretBody)
	svc, _ := newTestService(t, vault)

	ref := "@Microsoft.KeyVault(VaultName=test-vault;SecretName=db-password)"
	values := map[string]any{
		"database": map[string]any{
			"password": ref,
			"user":     "app",
		},
		"replicas": []any{"a", ref},
		"top":      ref,
	}

	err := svc.ResolveKeys(ctx, values, []string{"database.password", "database.user", "replicas.1", "top", "missing.path", "replicas.9"})
	require.NoError(t, err)

	assert.Equal(t, "s3cret", values["database"].(map[string]any)["password"])
	assert.Equal(t, "app", values["database"].(map[string]any)["user"])
	assert.Equal(t, []any{"a", "s3cret"}, values["replicas"])
	assert.Equal(t, "s3cret", values["top"])
	assert.NotContains(t, values, "missing")
	assert.Equal(t, 1, vault.count(secretPath))

	bad := map[string]any{"x": "@Microsoft.KeyVault(VaultName=test-vault;SecretName=absent)"}
	err = svc.ResolveKeys(ctx, bad, []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve x")
}

func TestServiceTypedConstructors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	vault := newFakeVault()
	vault.respond(certPath, http.StatusOK, certBody)
	vault.respond(secretPath, http.StatusOK, plainSecretBody)
	svc, _ := newTestService(t, vault, "main", "other")

	secret, err := svc.Secret(ctx, vaultHost+certPath)
	require.NoError(t, err)
	assert.Equal(t, vaultHost+certSecretPath, secret.Reference().String())

	key, err := svc.Key(ctx, vaultHost+certPath)
	require.NoError(t, err)
	assert.Equal(t, vaultHost+certKeyPath, key.Reference().String())

	noKey, err := svc.Key(ctx, vaultHost+secretPath)
	require.NoError(t, err)
	assert.Nil(t, noKey)

	_, err = svc.Secret(ctx, vaultHost+keyPath)
	var unsupported *keyvault.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Contains(t, err.Error(), "@Microsoft.KeyVault(KeyUri="+vaultHost+keyPath+")")

	cert, err := svc.Certificate(vaultHost+"/keys/api/v1", keyvault.WithCredential("other"))
	require.NoError(t, err)
	assert.Equal(t, reference.KindCertificate, cert.Kind())
	other, err := svc.Client("other")
	require.NoError(t, err)
	assert.Same(t, other, cert.Client())

	parsed, err := svc.Reference("@Microsoft.KeyVault(SecretUri=" + vaultHost + secretPath + ")")
	require.NoError(t, err)
	assert.Equal(t, reference.KindSecret, parsed.Kind())

	e, err := svc.Get(map[string]string{"VaultName": "test-vault", "KeyName": "signer"})
	require.NoError(t, err)
	assert.Equal(t, reference.KindKey, e.Kind())
}
