// Package keyvault resolves Azure Key Vault references into entity data and
// performs remote sign and verify operations with vault keys.
//
// A Client keeps resolved entities in two cache tiers: a per-client memo that
// lives as long as the Client, and an optional external cachestore.Store shared
// between processes. Entity gives a lazily fetched view of one reference and
// Service hands out one Client per named credential.
package keyvault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/systmms/kvref/pkg/cachestore"
	"github.com/systmms/kvref/pkg/entity"
	"github.com/systmms/kvref/pkg/reference"
	"golang.org/x/sync/singleflight"
)

// APIVersion is the Key Vault REST API version sent with every request.
const APIVersion = "7.4"

// Client defaults.
const (
	DefaultCacheTTL    = time.Hour
	DefaultCachePrefix = "azure-keyvault:"
)

const (
	moduleName    = "kvref"
	moduleVersion = "v0.1.0"
)

// Logger is the logging surface used by Client and Service.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(format string, args ...interface{})
	Warn(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

// Client fetches vault entities for one credential and caches them.
// A Client is safe for concurrent use.
type Client struct {
	cred     azcore.TokenCredential
	pipeline runtime.Pipeline

	store   cachestore.Store
	ttl     time.Duration
	prefix  string
	logger  Logger
	metrics *Metrics
	options policy.ClientOptions

	mu           sync.RWMutex
	keys         map[string]*entity.KeyData
	secrets      map[string]*entity.SecretData
	certificates map[string]*entity.CertificateData

	flights singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache sets the external cache tier. A nil store disables it.
func WithCache(store cachestore.Store) ClientOption {
	return func(c *Client) { c.store = store }
}

// WithCacheTTL sets how long entries live in the external cache.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCachePrefix sets the prefix of external cache keys.
func WithCachePrefix(prefix string) ClientOption {
	return func(c *Client) { c.prefix = prefix }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientOptions sets the azcore pipeline options, e.g. a custom
// transport or retry policy.
func WithClientOptions(opts policy.ClientOptions) ClientOption {
	return func(c *Client) { c.options = opts }
}

// WithMetrics records cache and request metrics on m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client authenticating with cred.
func NewClient(cred azcore.TokenCredential, opts ...ClientOption) (*Client, error) {
	if cred == nil {
		return nil, errors.New("keyvault: credential is required")
	}

	c := &Client{
		cred:         cred,
		ttl:          DefaultCacheTTL,
		prefix:       DefaultCachePrefix,
		logger:       nopLogger{},
		keys:         make(map[string]*entity.KeyData),
		secrets:      make(map[string]*entity.SecretData),
		certificates: make(map[string]*entity.CertificateData),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.pipeline = runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{}, &c.options)
	return c, nil
}

// TTL returns the external cache TTL.
func (c *Client) TTL() time.Duration {
	return c.ttl
}

// CacheKey returns the external cache key under which ref's data is stored.
func (c *Client) CacheKey(ref reference.Reference) string {
	return CacheKey(c.prefix, ref)
}

// CacheKey builds an external cache key: {prefix}{kind plural}:{ref cache key}:data.
func CacheKey(prefix string, ref reference.Reference) string {
	return prefix + ref.Kind().Plural() + ":" + ref.CacheKey() + ":data"
}

// codec binds one entity kind to its memo map and body decoder.
type codec[T entity.Data] struct {
	kind   reference.Kind
	memo   func(c *Client) map[string]T
	decode func([]byte) (T, error)
}

var (
	keyCodec = codec[*entity.KeyData]{
		kind:   reference.KindKey,
		memo:   func(c *Client) map[string]*entity.KeyData { return c.keys },
		decode: entity.DecodeKeyData,
	}
	secretCodec = codec[*entity.SecretData]{
		kind:   reference.KindSecret,
		memo:   func(c *Client) map[string]*entity.SecretData { return c.secrets },
		decode: entity.DecodeSecretData,
	}
	certificateCodec = codec[*entity.CertificateData]{
		kind:   reference.KindCertificate,
		memo:   func(c *Client) map[string]*entity.CertificateData { return c.certificates },
		decode: entity.DecodeCertificateData,
	}
)

// KeyData returns the key behind ref, using the cache tiers before the vault.
func (c *Client) KeyData(ctx context.Context, ref any) (*entity.KeyData, error) {
	return get(ctx, c, keyCodec, ref)
}

// SecretData returns the secret behind ref, using the cache tiers before the vault.
func (c *Client) SecretData(ctx context.Context, ref any) (*entity.SecretData, error) {
	return get(ctx, c, secretCodec, ref)
}

// CertificateData returns the certificate behind ref, using the cache tiers
// before the vault.
func (c *Client) CertificateData(ctx context.Context, ref any) (*entity.CertificateData, error) {
	return get(ctx, c, certificateCodec, ref)
}

// FetchKeyData reads the key from the vault and refreshes both cache tiers.
func (c *Client) FetchKeyData(ctx context.Context, ref any) (*entity.KeyData, error) {
	return fetchAny(ctx, c, keyCodec, ref)
}

// FetchSecretData reads the secret from the vault and refreshes both cache tiers.
func (c *Client) FetchSecretData(ctx context.Context, ref any) (*entity.SecretData, error) {
	return fetchAny(ctx, c, secretCodec, ref)
}

// FetchCertificateData reads the certificate from the vault and refreshes both
// cache tiers.
func (c *Client) FetchCertificateData(ctx context.Context, ref any) (*entity.CertificateData, error) {
	return fetchAny(ctx, c, certificateCodec, ref)
}

func get[T entity.Data](ctx context.Context, c *Client, cd codec[T], v any) (T, error) {
	var zero T
	ref, err := reference.ParseAs(cd.kind, v)
	if err != nil {
		return zero, err
	}

	key := ref.CacheKey()
	if data, ok := lookupMemo(c, cd, key); ok {
		c.metrics.RecordCacheLookup(TierMemo, cd.kind, ResultHit)
		return data, nil
	}
	c.metrics.RecordCacheLookup(TierMemo, cd.kind, ResultMiss)

	// Concurrent first reads of the same entity share one external lookup
	// and at most one vault request.
	res, err, _ := c.flights.Do(cd.kind.Plural()+":"+key, func() (interface{}, error) {
		if data, ok := lookupMemo(c, cd, key); ok {
			return data, nil
		}
		if data, ok := loadExternal(ctx, c, cd, ref); ok {
			storeMemo(c, cd, key, data)
			return data, nil
		}
		return fetch(ctx, c, cd, ref)
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

func fetchAny[T entity.Data](ctx context.Context, c *Client, cd codec[T], v any) (T, error) {
	ref, err := reference.ParseAs(cd.kind, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return fetch(ctx, c, cd, ref)
}

func fetch[T entity.Data](ctx context.Context, c *Client, cd codec[T], ref reference.Reference) (T, error) {
	var zero T
	c.logger.Debug("fetching %s %s", cd.kind, ref)

	body, err := c.do(ctx, "get", http.MethodGet, ref.URL(), ref.Scope(), nil)
	if err != nil {
		return zero, err
	}
	data, err := cd.decode(body)
	if err != nil {
		return zero, &RequestError{Op: "get", Method: http.MethodGet, URL: ref.String(), StatusCode: http.StatusOK, Body: body, Err: err}
	}

	storeMemo(c, cd, ref.CacheKey(), data)
	c.storeExternal(ctx, ref, data)
	return data, nil
}

func lookupMemo[T entity.Data](c *Client, cd codec[T], key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := cd.memo(c)[key]
	return data, ok
}

func storeMemo[T entity.Data](c *Client, cd codec[T], key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd.memo(c)[key] = data
}

// loadExternal reads ref from the external tier. Store and decoding failures
// are logged and reported as a miss.
func loadExternal[T entity.Data](ctx context.Context, c *Client, cd codec[T], ref reference.Reference) (T, bool) {
	var zero T
	if c.store == nil {
		return zero, false
	}

	cacheKey := c.CacheKey(ref)
	raw, err := c.store.Get(ctx, cacheKey)
	if err != nil {
		if errors.Is(err, cachestore.ErrNotFound) {
			c.metrics.RecordCacheLookup(TierExternal, cd.kind, ResultMiss)
		} else {
			c.metrics.RecordCacheLookup(TierExternal, cd.kind, ResultError)
			c.logger.Warn("cache read for %s failed: %v", cacheKey, err)
		}
		return zero, false
	}

	data, err := cd.decode(raw)
	if err != nil {
		c.metrics.RecordCacheLookup(TierExternal, cd.kind, ResultError)
		c.logger.Warn("discarding undecodable cache entry %s: %v", cacheKey, err)
		return zero, false
	}
	c.metrics.RecordCacheLookup(TierExternal, cd.kind, ResultHit)
	c.logger.Debug("cache hit for %s", cacheKey)
	return data, true
}

func (c *Client) storeExternal(ctx context.Context, ref reference.Reference, data entity.Data) {
	if c.store == nil {
		return
	}
	cacheKey := c.CacheKey(ref)
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("cannot encode %s for the cache: %v", cacheKey, err)
		return
	}
	if err := c.store.Set(ctx, cacheKey, raw, c.ttl); err != nil {
		c.logger.Warn("cache write for %s failed: %v", cacheKey, err)
	}
}

type signRequest struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
}

type signResponse struct {
	Kid   string `json:"kid"`
	Value string `json:"value"`
}

type verifyRequest struct {
	Alg       string `json:"alg"`
	Digest    string `json:"digest"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Value any `json:"value"`
}

// Sign signs data with the key behind keyRef. data is hashed with SHA-256
// before it is sent, so alg should be a SHA-256 algorithm such as RS256,
// PS256 or ES256. The returned value is base64url encoded.
func (c *Client) Sign(ctx context.Context, keyRef any, alg string, data []byte) (entity.SignResult, error) {
	ref, err := reference.ParseAs(reference.KindKey, keyRef)
	if err != nil {
		return entity.SignResult{}, err
	}
	u, _ := ref.SignURL()

	body, err := c.do(ctx, "sign", http.MethodPost, u, ref.Scope(), signRequest{Alg: alg, Value: digest(data)})
	if err != nil {
		return entity.SignResult{}, err
	}
	var resp signResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return entity.SignResult{}, &RequestError{Op: "sign", Method: http.MethodPost, URL: u.String(), StatusCode: http.StatusOK, Body: body, Err: err}
	}
	return entity.SignResult{KeyReference: ref, Kid: resp.Kid, Value: resp.Value}, nil
}

// Verify checks a base64url signature over data with the key behind keyRef.
// A response without a boolean result counts as not verified.
func (c *Client) Verify(ctx context.Context, keyRef any, alg string, data []byte, signature string) (bool, error) {
	ref, err := reference.ParseAs(reference.KindKey, keyRef)
	if err != nil {
		return false, err
	}
	u, _ := ref.VerifyURL()

	req := verifyRequest{Alg: alg, Digest: digest(data), Signature: signature}
	body, err := c.do(ctx, "verify", http.MethodPost, u, ref.Scope(), req)
	if err != nil {
		return false, err
	}
	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, &RequestError{Op: "verify", Method: http.MethodPost, URL: u.String(), StatusCode: http.StatusOK, Body: body, Err: err}
	}
	ok, _ := resp.Value.(bool)
	return ok, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// do performs one authenticated vault request and returns the response body
// of a successful call.
func (c *Client) do(ctx context.Context, op, method string, u *url.URL, scope string, payload any) ([]byte, error) {
	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return nil, &CredentialError{Scope: scope, Err: err}
	}

	req, err := runtime.NewRequest(ctx, method, u.String())
	if err != nil {
		return nil, &RequestError{Op: op, Method: method, URL: u.String(), Err: err}
	}
	q := req.Raw().URL.Query()
	q.Set("api-version", APIVersion)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set("Authorization", "Bearer "+token.Token)
	req.Raw().Header.Set("Accept", "application/json")
	if payload != nil {
		if err := runtime.MarshalAsJSON(req, payload); err != nil {
			return nil, &RequestError{Op: op, Method: method, URL: u.String(), Err: err}
		}
	}

	start := time.Now()
	resp, err := c.pipeline.Do(req)
	if err != nil {
		c.metrics.RecordVaultRequest(op, 0, time.Since(start))
		return nil, &RequestError{Op: op, Method: method, URL: u.String(), Err: err}
	}
	c.metrics.RecordVaultRequest(op, resp.StatusCode, time.Since(start))

	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, &RequestError{Op: op, Method: method, URL: u.String(), StatusCode: resp.StatusCode, Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &RequestError{
			Op:         op,
			Method:     method,
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        runtime.NewResponseError(resp),
		}
	}
	return body, nil
}

// String implements fmt.Stringer for debug output.
func (c *Client) String() string {
	return fmt.Sprintf("keyvault.Client(prefix=%q, ttl=%s, external=%t)", c.prefix, c.ttl, c.store != nil)
}
