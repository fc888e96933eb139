package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a value.
const (
	DefaultCredential = "default"
	DefaultPrefix     = "azure-keyvault:"
	DefaultTTL        = time.Hour
)

// Environment variables overriding the config file.
const (
	EnvCredential   = "AZURE_KEYVAULT_CREDENTIAL"
	EnvCacheEnabled = "AZURE_KEYVAULT_CACHE_ENABLED"
	EnvCacheStore   = "AZURE_KEYVAULT_CACHE_STORE"
	EnvCachePrefix  = "AZURE_KEYVAULT_CACHE_PREFIX"
	EnvTTL          = "AZURE_KEYVAULT_TTL"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Credential string // overrides the configured default credential when set
	Definition *Definition
}

// Definition represents the kvref.yaml structure
type Definition struct {
	Version     int                         `yaml:"version"`
	Credential  string                      `yaml:"credential,omitempty"`
	Credentials map[string]CredentialConfig `yaml:"credentials,omitempty"`
	Cache       CacheConfig                 `yaml:"cache,omitempty"`
	Stores      map[string]StoreConfig      `yaml:"stores,omitempty"`
}

// CredentialConfig describes one named Azure credential.
type CredentialConfig struct {
	Type           string `yaml:"type"`
	TenantID       string `yaml:"tenant_id,omitempty"`
	ClientID       string `yaml:"client_id,omitempty"`
	ClientSecret   string `yaml:"client_secret,omitempty"`
	UserAssignedID string `yaml:"user_assigned_id,omitempty"`
	KeyringService string `yaml:"keyring_service,omitempty"`
	KeyringAccount string `yaml:"keyring_account,omitempty"`
}

// CacheConfig controls the external cache tier.
type CacheConfig struct {
	Enabled *bool    `yaml:"enabled,omitempty"`
	Store   string   `yaml:"store,omitempty"`
	Prefix  *string  `yaml:"prefix,omitempty"`
	TTL     Duration `yaml:"ttl,omitempty"`
}

// StoreConfig holds cache store-specific configuration
type StoreConfig struct {
	Type      string                 `yaml:"type"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	Config    map[string]interface{} `yaml:",inline"`
}

// Load reads and parses the kvref.yaml file, then applies environment
// overrides. A missing file is not an error: defaults and environment apply.
func (c *Config) Load() error {
	def := &Definition{}

	data, err := c.read()
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if err := validateSchema(data); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, def); err != nil {
			return kverrors.ConfigError{
				Message:    "failed to decode configuration: " + err.Error(),
				Suggestion: "Check value types against the documented kvref.yaml keys",
				Err:        err,
			}
		}
	}

	// Validate version
	if def.Version != 0 {
		return kverrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your kvref.yaml file",
		}
	}

	if err := applyEnv(def, os.LookupEnv); err != nil {
		return err
	}
	if err := def.validateReferences(); err != nil {
		return err
	}

	c.Definition = def
	return nil
}

func (c *Config) read() ([]byte, error) {
	if c.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Logger.Debug("config file %s not found, using defaults and environment", c.Path)
			return nil, nil
		}
		return nil, kverrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}
	return data, nil
}

func applyEnv(def *Definition, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCredential); ok && v != "" {
		def.Credential = v
	}
	if v, ok := lookup(EnvCacheEnabled); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return kverrors.ConfigError{
				Field:      EnvCacheEnabled,
				Value:      v,
				Message:    "not a boolean",
				Suggestion: "Use true or false",
				Err:        err,
			}
		}
		def.Cache.Enabled = &enabled
	}
	if v, ok := lookup(EnvCacheStore); ok {
		def.Cache.Store = v
	}
	if v, ok := lookup(EnvCachePrefix); ok {
		def.Cache.Prefix = &v
	}
	if v, ok := lookup(EnvTTL); ok && v != "" {
		ttl, err := ParseTTL(v)
		if err != nil {
			return kverrors.ConfigError{
				Field:      EnvTTL,
				Value:      v,
				Message:    err.Error(),
				Suggestion: ttlSuggestion,
				Err:        err,
			}
		}
		def.Cache.TTL = Duration(ttl)
	}
	return nil
}

func (d *Definition) validateReferences() error {
	if d.Cache.Store != "" {
		if _, ok := d.Stores[d.Cache.Store]; !ok {
			return kverrors.ConfigError{
				Field:      "cache.store",
				Value:      d.Cache.Store,
				Message:    "cache store not defined",
				Suggestion: availableSuggestion("stores", mapKeys(d.Stores)),
			}
		}
	}
	return nil
}

// CacheEnabled reports whether the external cache tier is used. Defaults to true.
func (d *Definition) CacheEnabled() bool {
	if d == nil || d.Cache.Enabled == nil {
		return true
	}
	return *d.Cache.Enabled
}

// CachePrefix returns the external cache key prefix.
func (d *Definition) CachePrefix() string {
	if d == nil || d.Cache.Prefix == nil {
		return DefaultPrefix
	}
	return *d.Cache.Prefix
}

// CacheTTL returns the external cache TTL.
func (d *Definition) CacheTTL() time.Duration {
	if d == nil || d.Cache.TTL <= 0 {
		return DefaultTTL
	}
	return time.Duration(d.Cache.TTL)
}

// DefaultCredential returns the credential used when none is requested.
func (c *Config) DefaultCredential() string {
	if c.Credential != "" {
		return c.Credential
	}
	if c.Definition != nil && c.Definition.Credential != "" {
		return c.Definition.Credential
	}
	return DefaultCredential
}

// GetCredential returns the configuration for a named credential. The name
// "default" resolves to the Azure default credential chain when it is not
// configured explicitly.
func (c *Config) GetCredential(name string) (CredentialConfig, error) {
	if c.Definition == nil {
		return CredentialConfig{}, notLoaded()
	}
	if name == "" {
		name = c.DefaultCredential()
	}
	if cred, ok := c.Definition.Credentials[name]; ok {
		return cred, nil
	}
	if name == DefaultCredential {
		return CredentialConfig{Type: "default"}, nil
	}
	return CredentialConfig{}, kverrors.ConfigError{
		Field:      "credential",
		Value:      name,
		Message:    "credential not found in configuration",
		Suggestion: availableSuggestion("credentials", mapKeys(c.Definition.Credentials)),
	}
}

// GetStore returns the configuration for a named cache store.
func (c *Config) GetStore(name string) (StoreConfig, error) {
	if c.Definition == nil {
		return StoreConfig{}, notLoaded()
	}
	if store, ok := c.Definition.Stores[name]; ok {
		return store, nil
	}
	return StoreConfig{}, kverrors.ConfigError{
		Field:      "store",
		Value:      name,
		Message:    "cache store not found in configuration",
		Suggestion: availableSuggestion("stores", mapKeys(c.Definition.Stores)),
	}
}

// GetStoreTimeout returns the store operation timeout
func (s StoreConfig) GetStoreTimeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func notLoaded() error {
	return kverrors.UserError{
		Message:    "Configuration not loaded",
		Suggestion: "This is an internal error. Please report it",
	}
}

func availableSuggestion(section string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("Add it under '%s:' in your kvref.yaml", section)
	}
	return fmt.Sprintf("Available %s: %s", section, strings.Join(names, ", "))
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
