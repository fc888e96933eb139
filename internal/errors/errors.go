package errors

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// VaultError wraps a failed vault operation with a suggestion derived from
// the underlying error.
func VaultError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return UserError{
		Message:    fmt.Sprintf("Key Vault error during %s", operation),
		Details:    err.Error(),
		Suggestion: getVaultSuggestion(err),
		Err:        err,
	}
}

// getVaultSuggestion returns helpful suggestions based on the vault or identity error
func getVaultSuggestion(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "AADSTS700016"):
		return "The application was not found in the tenant. Check client_id and tenant_id"
	case strings.Contains(errStr, "AADSTS7000215"):
		return "The client secret is invalid. Check client_secret or the keyring entry holding it"
	case strings.Contains(errStr, "DefaultAzureCredential"), strings.Contains(errStr, "credential"):
		return "Sign in with 'az login', or configure a managed identity or service principal credential"
	case strings.Contains(errStr, "401"), strings.Contains(errStr, "Unauthorized"):
		return "The token was rejected. Check that the credential belongs to the vault's tenant"
	case strings.Contains(errStr, "403"), strings.Contains(errStr, "Forbidden"):
		return "Grant the identity 'get' permission on the vault (access policy or Key Vault RBAC role)"
	case strings.Contains(errStr, "404"), strings.Contains(errStr, "NotFound"):
		return "Verify the entity name and version. A reference without a version resolves the latest version"
	case strings.Contains(errStr, "unknown key vault entity type"):
		return "References must point at /keys/, /secrets/ or /certificates/"
	case strings.Contains(errStr, "unrecognized key vault reference properties"):
		return "Use SecretUri, KeyUri or CertificateUri, or VaultName with SecretName, KeyName or CertificateName"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "The operation timed out. Check your network connection and try again"
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"):
		return "Unable to connect. Check the vault name and your network"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var configErr ConfigError
	if errors.As(err, &configErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	// Simplify common technical errors
	errStr := rootErr.Error()

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// yaml.v3 prefixes parser errors with "yaml: "; a file path ending in
	// .yaml must not match.
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) || strings.HasPrefix(errStr, "yaml: ") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
