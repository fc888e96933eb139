package commands

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kvref/internal/config"
	"github.com/systmms/kvref/internal/logging"
	"github.com/systmms/kvref/pkg/keyvault"
)

const testVault = "https://test-vault.vault.azure.net"

type stubResponse struct {
	status int
	body   string
}

// stubVault answers vault requests by path and records request bodies.
type stubVault struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	bodies    map[string]map[string]any
}

func (v *stubVault) Do(req *http.Request) (*http.Response, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		var body map[string]any
		if json.Unmarshal(raw, &body) == nil {
			v.bodies[req.URL.Path] = body
		}
	}
	resp, ok := v.responses[req.URL.Path]
	if !ok {
		resp = stubResponse{status: http.StatusNotFound, body: `{"error":{"code":"NotFound"}}`}
	}
	return &http.Response{
		StatusCode: resp.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Request:    req,
	}, nil
}

type staticCredential struct{}

func (staticCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type staticSource struct{}

func (staticSource) Credential(string) (azcore.TokenCredential, error) { return staticCredential{}, nil }
func (staticSource) DefaultCredential() string                           { return "default" }

// useStubVault routes every command through a stub vault until the test ends.
func useStubVault(t *testing.T, responses map[string]stubResponse) *stubVault {
	t.Helper()
	vault := &stubVault{responses: responses, bodies: make(map[string]map[string]any)}

	previous := newService
	newService = func(cfg *config.Config) (*keyvault.Service, func(), error) {
		svc := keyvault.NewService(staticSource{},
			keyvault.WithClientOptions(policy.ClientOptions{
				Transport: vault,
				Retry:     policy.RetryOptions{MaxRetries: -1},
			}),
			keyvault.WithLogger(cfg.Logger),
		)
		return svc, func() {}, nil
	}
	t.Cleanup(func() { newService = previous })
	return vault
}

func testConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvref.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &config.Config{Path: path, Logger: logging.Discard()}
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
