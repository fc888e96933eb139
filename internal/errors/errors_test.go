package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
	"gopkg.in/yaml.v3"
)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Details: Connection timeout")
	assert.Contains(t, errMsg, "💡 Try: Check network connectivity")
}

func TestUserErrorFallsBackToWrappedMessage(t *testing.T) {
	t.Parallel()

	err := errors.UserError{Err: fmt.Errorf("boom")}
	assert.Equal(t, "boom", err.Error())
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "cache.ttl",
		Value:      "forever",
		Message:    "invalid duration",
		Suggestion: "Use a Go duration such as 1h, seconds, or '2 hours'",
	}

	assert.Equal(t,
		"Configuration error in field 'cache.ttl' (value: forever): invalid duration\n  💡 Use a Go duration such as 1h, seconds, or '2 hours'",
		err.Error())
}

func TestVaultErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "forbidden",
			err:      fmt.Errorf("GET https://v.vault.azure.net/secrets/x: 403 Forbidden"),
			contains: "'get' permission",
		},
		{
			name:     "not found",
			err:      fmt.Errorf("status 404: SecretNotFound"),
			contains: "entity name and version",
		},
		{
			name:     "credential chain",
			err:      fmt.Errorf("DefaultAzureCredential: failed to acquire a token"),
			contains: "az login",
		},
		{
			name:     "bad client secret",
			err:      fmt.Errorf("AADSTS7000215: Invalid client secret provided"),
			contains: "client_secret",
		},
		{
			name:     "dns",
			err:      fmt.Errorf("dial tcp: lookup missing.vault.azure.net: no such host"),
			contains: "vault name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := errors.VaultError("resolve", tt.err)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Key Vault error during resolve")
			assert.Contains(t, err.Error(), tt.contains)
			assert.True(t, stderrors.Is(err, tt.err))
		})
	}
}

func TestVaultErrorNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, errors.VaultError("resolve", nil))
}

// TestSimplifyError verifies error simplification for common cases
func TestSimplifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		inputError    error
		expectedType  string
		expectedInMsg string
	}{
		{
			name:          "yaml_error",
			inputError:    fmt.Errorf("yaml: line 5: mapping values are not allowed"),
			expectedType:  "ConfigError",
			expectedInMsg: "Invalid YAML",
		},
		{
			name:          "permission_denied",
			inputError:    fmt.Errorf("open kvref.yaml: permission denied"),
			expectedType:  "UserError",
			expectedInMsg: "Permission denied",
		},
		{
			name:          "yaml_type_error",
			inputError:    fmt.Errorf("decode: %w", &yaml.TypeError{Errors: []string{"line 2: cannot unmarshal !!str into int"}}),
			expectedType:  "ConfigError",
			expectedInMsg: "Invalid YAML",
		},
		{
			name:          "missing_yaml_file",
			inputError:    fmt.Errorf("open /etc/kvref/kvref.yaml: no such file or directory"),
			expectedType:  "UserError",
			expectedInMsg: "not found",
		},
		{
			name:          "file_not_found",
			inputError:    fmt.Errorf("no such file or directory"),
			expectedType:  "UserError",
			expectedInMsg: "not found",
		},
		{
			name:          "already_friendly",
			inputError:    fmt.Errorf("wrapped: %w", errors.UserError{Message: "friendly"}),
			expectedType:  "wrapped",
			expectedInMsg: "friendly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			simplified := errors.SimplifyError(tt.inputError)
			assert.Contains(t, simplified.Error(), tt.expectedInMsg)

			switch tt.expectedType {
			case "ConfigError":
				_, ok := simplified.(errors.ConfigError)
				assert.True(t, ok, "Should be ConfigError type")
			case "UserError":
				_, ok := simplified.(errors.UserError)
				assert.True(t, ok, "Should be UserError type")
			case "wrapped":
				assert.Equal(t, tt.inputError, simplified)
			}
		})
	}
}

// TestUserErrorUnwrap verifies error unwrapping works correctly
func TestUserErrorUnwrap(t *testing.T) {
	t.Parallel()

	baseErr := fmt.Errorf("base error")
	userErr := errors.UserError{
		Message: "wrapped error",
		Err:     baseErr,
	}

	assert.Equal(t, baseErr, userErr.Unwrap())
	assert.True(t, stderrors.Is(errors.ConfigError{Message: "x", Err: baseErr}, baseErr))
}

func TestVaultErrorKeepsSecretsRedacted(t *testing.T) {
	t.Parallel()

	secretValue := "context-secret-token-xyz"
	baseErr := fmt.Errorf("token rejected: %s", logging.Secret(secretValue))

	errMsg := errors.VaultError("fetch", baseErr).Error()
	assert.Contains(t, errMsg, "[REDACTED]")
	assert.NotContains(t, errMsg, secretValue)
}

func TestNilErrorHandling(t *testing.T) {
	t.Parallel()
	assert.Nil(t, errors.SimplifyError(nil))
}
