// Package credentials builds the named Azure credentials declared in
// kvref.yaml and hands them to the vault service.
package credentials

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/systmms/kvref/internal/config"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
	"github.com/systmms/kvref/pkg/keyvault"
	"github.com/zalando/go-keyring"
)

// CredentialFactory creates an Azure credential from its configuration
type CredentialFactory func(name string, cfg config.CredentialConfig) (azcore.TokenCredential, error)

// Registry builds credentials on first use and keeps one instance per name.
// It implements keyvault.CredentialSource.
type Registry struct {
	cfg       *config.Config
	logger    *logging.Logger
	factories map[string]CredentialFactory

	mu          sync.Mutex
	credentials map[string]*CachingCredential
}

// NewRegistry creates a registry with the built-in credential types
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		cfg:         cfg,
		logger:      cfg.Logger,
		factories:   make(map[string]CredentialFactory),
		credentials: make(map[string]*CachingCredential),
	}

	r.RegisterFactory("default", newDefaultCredential)
	r.RegisterFactory("managed_identity", newManagedIdentityCredential)
	r.RegisterFactory("client_secret", newClientSecretCredential)
	r.RegisterFactory("cli", newCLICredential)
	r.RegisterFactory("environment", newEnvironmentCredential)

	return r
}

// RegisterFactory registers a credential factory for a given type
func (r *Registry) RegisterFactory(credType string, factory CredentialFactory) {
	r.factories[credType] = factory
}

// GetSupportedTypes returns the supported credential types in sorted order
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for credType := range r.factories {
		types = append(types, credType)
	}
	slices.Sort(types)
	return types
}

// IsSupported checks if a credential type is supported
func (r *Registry) IsSupported(credType string) bool {
	_, exists := r.factories[credType]
	return exists
}

// DefaultCredential returns the name used when no credential is requested.
func (r *Registry) DefaultCredential() string {
	return r.cfg.DefaultCredential()
}

// Credential returns the named credential, creating it on first use.
func (r *Registry) Credential(name string) (azcore.TokenCredential, error) {
	if name == "" {
		name = r.DefaultCredential()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cred, ok := r.credentials[name]; ok {
		return cred, nil
	}

	credCfg, err := r.cfg.GetCredential(name)
	if err != nil {
		return nil, err
	}
	factory, ok := r.factories[credCfg.Type]
	if !ok {
		return nil, kverrors.ConfigError{
			Field:      "credentials." + name + ".type",
			Value:      credCfg.Type,
			Message:    "unknown credential type",
			Suggestion: "Use one of: " + strings.Join(r.GetSupportedTypes(), ", "),
		}
	}

	r.logger.Debug("creating %s credential %q", credCfg.Type, name)
	inner, err := factory(name, credCfg)
	if err != nil {
		return nil, kverrors.UserError{
			Message:    fmt.Sprintf("Failed to create credential %q", name),
			Details:    logging.Redact(err.Error(), []string{credCfg.ClientSecret}),
			Suggestion: identitySuggestion(err),
			Err:        err,
		}
	}

	cred := NewCachingCredential(inner)
	r.credentials[name] = cred
	return cred, nil
}

// Close drops cached tokens of every credential created so far.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cred := range r.credentials {
		cred.Clear()
	}
}

// Factory functions for built-in credential types

func newDefaultCredential(_ string, cfg config.CredentialConfig) (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: cfg.TenantID})
}

func newManagedIdentityCredential(_ string, cfg config.CredentialConfig) (azcore.TokenCredential, error) {
	if cfg.UserAssignedID != "" {
		return azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(cfg.UserAssignedID),
		})
	}
	return azidentity.NewManagedIdentityCredential(nil)
}

func newClientSecretCredential(name string, cfg config.CredentialConfig) (azcore.TokenCredential, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" {
		return nil, errors.New("tenant_id and client_id are required for client_secret credentials")
	}
	secret, err := clientSecret(name, cfg)
	if err != nil {
		return nil, err
	}
	return azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, secret, nil)
}

func newCLICredential(_ string, cfg config.CredentialConfig) (azcore.TokenCredential, error) {
	return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: cfg.TenantID})
}

func newEnvironmentCredential(_ string, _ config.CredentialConfig) (azcore.TokenCredential, error) {
	return azidentity.NewEnvironmentCredential(nil)
}

// clientSecret returns the inline secret or reads it from the OS keyring.
// The keyring account defaults to the credential name.
func clientSecret(name string, cfg config.CredentialConfig) (string, error) {
	if cfg.ClientSecret != "" {
		return cfg.ClientSecret, nil
	}
	if cfg.KeyringService == "" {
		return "", errors.New("client_secret credentials need client_secret or keyring_service")
	}

	account := cfg.KeyringAccount
	if account == "" {
		account = name
	}
	secret, err := keyring.Get(cfg.KeyringService, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no keyring entry for service %q account %q", cfg.KeyringService, account)
		}
		return "", fmt.Errorf("keyring lookup failed: %w", err)
	}
	return secret, nil
}

// identitySuggestion provides helpful suggestions based on azidentity errors
func identitySuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "keyring"):
		return "Store the client secret in the OS keyring under the configured service and account"
	case strings.Contains(errStr, "tenant_id and client_id"), strings.Contains(errStr, "invalid tenant"):
		return "Check tenant_id and client_id of the credential in kvref.yaml"
	case strings.Contains(errStr, "missing environment variable"):
		return "Set AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET (or a certificate) in the environment"
	case strings.Contains(errStr, "managed identity"):
		return "Check that Managed Identity is enabled and assigned appropriate roles"
	default:
		return "Check Azure credentials. Try 'az login' or verify managed identity configuration"
	}
}

var _ keyvault.CredentialSource = (*Registry)(nil)
