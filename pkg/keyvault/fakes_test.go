package keyvault_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/systmms/kvref/pkg/keyvault"
)

// fakeCredential hands out a fixed token and records requested scopes.
type fakeCredential struct {
	mu     sync.Mutex
	scopes []string
	err    error
}

func (c *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes = append(c.scopes, opts.Scopes...)
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func (c *fakeCredential) Scopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.scopes...)
}

type recordedRequest struct {
	Method string
	URL    string
	Auth   string
	Body   map[string]any
}

type fakeResponse struct {
	status int
	body   string
}

// fakeVault is a policy.Transporter answering by request path.
type fakeVault struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	requests  []recordedRequest
	block     chan struct{}
}

func newFakeVault() *fakeVault {
	return &fakeVault{responses: make(map[string]fakeResponse)}
}

func (v *fakeVault) respond(path string, status int, body string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responses[path] = fakeResponse{status: status, body: body}
}

func (v *fakeVault) Do(req *http.Request) (*http.Response, error) {
	if v.block != nil {
		<-v.block
	}

	rec := recordedRequest{Method: req.Method, URL: req.URL.String(), Auth: req.Header.Get("Authorization")}
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
	}

	v.mu.Lock()
	v.requests = append(v.requests, rec)
	resp, ok := v.responses[req.URL.Path]
	v.mu.Unlock()

	if !ok {
		resp = fakeResponse{status: http.StatusNotFound, body: `{"error":{"code":"SecretNotFound","message":"not found"}}`}
	}
	if resp.status == 0 {
		return nil, errors.New("connection refused")
	}
	return &http.Response{
		StatusCode: resp.status,
		Status:     fmt.Sprintf("%d %s", resp.status, http.StatusText(resp.status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(resp.body))),
		Request:    req,
	}, nil
}

func (v *fakeVault) Requests() []recordedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]recordedRequest(nil), v.requests...)
}

func (v *fakeVault) count(path string) int {
	n := 0
	for _, r := range v.Requests() {
		if strings.Contains(r.URL, path) {
			n++
		}
	}
	return n
}

func transportOptions(v *fakeVault) keyvault.ClientOption {
	return keyvault.WithClientOptions(policy.ClientOptions{
		Transport: v,
		Retry:     policy.RetryOptions{MaxRetries: -1},
	})
}

func newTestClient(t *testing.T, v *fakeVault, opts ...keyvault.ClientOption) (*keyvault.Client, *fakeCredential) {
	t.Helper()
	cred := &fakeCredential{}
	client, err := keyvault.NewClient(cred, append([]keyvault.ClientOption{transportOptions(v)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, cred
}

const (
	secretPath      = "/secrets/db-password/"
	jsonSecretPath  = "/secrets/app-config/"
	keyPath         = "/keys/signer/"
	certPath        = "/certificates/api/"
	certKeyPath     = "/keys/api/v1"
	certSecretPath  = "/secrets/api/v1"
	vaultHost       = "https://test-vault.vault.azure.net"
	plainSecretBody = `{"value":"s3cret","id":"https://test-vault.vault.azure.net/secrets/db-password/v1","attributes":{"enabled":true}}`
	jsonSecretBody  = `{"value":"{\"a\":1}","contentType":"application/json","id":"https://test-vault.vault.azure.net/secrets/app-config/v1"}`
	keyBody         = `{"key":{"kid":"https://test-vault.vault.azure.net/keys/signer/v1","kty":"RSA","key_ops":["sign","verify"],"n":"AQAB","e":"AQAB"},"attributes":{"enabled":true}}`
	certBody        = `{"id":"https://test-vault.vault.azure.net/certificates/api/v1","kid":"https://test-vault.vault.azure.net/keys/api/v1","sid":"https://test-vault.vault.azure.net/secrets/api/v1","x5t":"dGh1bWJwcmludA","cer":"","attributes":{"enabled":true}}`
)
