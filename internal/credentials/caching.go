package credentials

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/systmms/kvref/internal/secure"
)

// RefreshBuffer is subtracted from a token's lifetime so it is renewed
// before the vault starts rejecting it.
const RefreshBuffer = 5 * time.Minute

// cachedToken is one access token sealed in memguard.
type cachedToken struct {
	token     *secure.SecureBuffer
	expiresOn time.Time
}

// CachingCredential memoizes tokens per scope set. Tokens are kept sealed
// and never leave process memory.
type CachingCredential struct {
	inner azcore.TokenCredential
	now   func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewCachingCredential wraps inner.
func NewCachingCredential(inner azcore.TokenCredential) *CachingCredential {
	return &CachingCredential{
		inner:  inner,
		now:    time.Now,
		tokens: make(map[string]cachedToken),
	}
}

// Unwrap returns the wrapped credential.
func (c *CachingCredential) Unwrap() azcore.TokenCredential {
	return c.inner
}

// GetToken implements azcore.TokenCredential. Requests carrying claims
// (a CAE challenge) always go to the wrapped credential.
func (c *CachingCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if opts.Claims != "" {
		return c.inner.GetToken(ctx, opts)
	}
	key := opts.TenantID + "|" + strings.Join(opts.Scopes, " ")

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.tokens[key]; ok {
		if c.now().Add(RefreshBuffer).Before(cached.expiresOn) {
			if token, err := cached.token.String(); err == nil {
				return azcore.AccessToken{Token: token, ExpiresOn: cached.expiresOn}, nil
			}
		}
		cached.token.Destroy()
		delete(c.tokens, key)
	}

	tok, err := c.inner.GetToken(ctx, opts)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	c.tokens[key] = cachedToken{token: secure.NewSecureString(tok.Token), expiresOn: tok.ExpiresOn}
	return tok, nil
}

// Clear drops every cached token.
func (c *CachingCredential) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, cached := range c.tokens {
		cached.token.Destroy()
		delete(c.tokens, key)
	}
}

var _ azcore.TokenCredential = (*CachingCredential)(nil)
