package commands

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
)

func TestResolveCommand(t *testing.T) {
	useStubVault(t, map[string]stubResponse{
		"/secrets/db-password/": {status: http.StatusOK, body: `{"value":"s3cret"}`},
		"/secrets/app-config/":  {status: http.StatusOK, body: `{"value":"{\"host\":\"db.internal\",\"port\":5432}","contentType":"application/json"}`},
		"/keys/signer/":         {status: http.StatusOK, body: `{"key":{"kid":"https://test-vault.vault.azure.net/keys/signer/v1","kty":"EC","crv":"P-256"}}`},
	})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "reference string",
			args: []string{"@Microsoft.KeyVault(VaultName=test-vault;SecretName=db-password)"},
			want: "s3cret\n",
		},
		{
			name: "plain literal",
			args: []string{"plain-value"},
			want: "plain-value\n",
		},
		{
			name: "non-vault url",
			args: []string{"https://example.com/config"},
			want: "https://example.com/config\n",
		},
		{
			name: "json secret",
			args: []string{testVault + "/secrets/app-config/"},
			want: "{\n  \"host\": \"db.internal\",\n  \"port\": 5432\n}\n",
		},
		{
			name: "json field",
			args: []string{testVault + "/secrets/app-config/", "--field", "host"},
			want: "db.internal\n",
		},
		{
			name: "key",
			args: []string{testVault + "/keys/signer/"},
			want: `"kty": "EC"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "version: 0\n")
			out, err := runCommand(t, NewResolveCommand(cfg), tt.args...)
			require.NoError(t, err)
			if strings.HasPrefix(tt.want, `"`) {
				assert.Contains(t, out, tt.want)
				return
			}
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestResolveCommandErrors(t *testing.T) {
	useStubVault(t, map[string]stubResponse{
		"/secrets/db-password/": {status: http.StatusOK, body: `{"value":"s3cret"}`},
	})

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{name: "missing secret", args: []string{testVault + "/secrets/absent/"}, contains: "Key Vault error during resolve"},
		{name: "malformed", args: []string{"@Microsoft.KeyVault(Foo=bar)"}, contains: "reference parsing"},
		{name: "field on literal", args: []string{"plain-value", "--field", "x"}, contains: "--field needs a secret reference"},
		{name: "field on plain secret", args: []string{testVault + "/secrets/db-password/", "--field", "x"}, contains: "Field not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "version: 0\n")
			_, err := runCommand(t, NewResolveCommand(cfg), tt.args...)
			require.Error(t, err)
			var userErr kverrors.UserError
			require.ErrorAs(t, err, &userErr)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestReferenceCommand(t *testing.T) {
	cfg := testConfig(t, "version: 0\ncache:\n  prefix: \"kv:\"\n")

	out, err := runCommand(t, NewReferenceCommand(cfg), "@Microsoft.KeyVault(VaultName=precon-dev-development;SecretName=someSecret)")
	require.NoError(t, err)
	assert.Contains(t, out, "https://precon-dev-development.vault.azure.net/secrets/someSecret/")
	assert.Contains(t, out, "@Microsoft.KeyVault(SecretUri=https://precon-dev-development.vault.azure.net/secrets/someSecret/)")
	assert.Contains(t, out, "kv:secrets:precon-dev-development.vault.azure.net/secrets/someSecret/:data")
	assert.Contains(t, out, "https://precon-dev-development.vault.azure.net/.default")

	cfg = testConfig(t, "version: 0\n")
	out, err = runCommand(t, NewReferenceCommand(cfg), testVault+"/certificates/api/v1", "--as", "key", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"uri": "https://test-vault.vault.azure.net/keys/api/v1"`)
	assert.Contains(t, out, `"kind": "Key"`)
	assert.Contains(t, out, `"version": "v1"`)

	cfg = testConfig(t, "version: 0\n")
	_, err = runCommand(t, NewReferenceCommand(cfg), testVault+"/keys/api/", "--as", "blob")
	assert.Error(t, err)
}

func TestResolveCommandRedactsDebugOutput(t *testing.T) {
	useStubVault(t, map[string]stubResponse{
		"/secrets/db-password/": {status: http.StatusOK, body: `{"value":"s3cret"}`},
	})

	var logs bytes.Buffer
	cfg := testConfig(t, "version: 0\n")
	cfg.Logger = logging.New(true, true)
	cfg.Logger.SetOutput(&logs)

	out, err := runCommand(t, NewResolveCommand(cfg), testVault+"/secrets/db-password/")
	require.NoError(t, err)
	assert.Equal(t, "s3cret\n", out)
	assert.Contains(t, logs.String(), "[REDACTED]")
	assert.NotContains(t, logs.String(), "s3cret")
}
