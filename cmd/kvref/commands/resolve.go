package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/kvref/internal/config"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
	"github.com/systmms/kvref/pkg/reference"
)

func NewResolveCommand(cfg *config.Config) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "resolve <value>",
		Short: "Print the value a Key Vault reference points at",
		Long: `Resolve a Key Vault reference and print its value.

The value may be a typed reference string or a bare entity URI. Any other
value is printed unchanged, so literals and references can be mixed. Secrets
print their raw value unless they hold JSON, which prints indented. Keys and
certificates print their vault data as JSON.

Examples:
  kvref resolve '@Microsoft.KeyVault(VaultName=my-vault;SecretName=db-password)'
  kvref resolve https://my-vault.vault.azure.net/secrets/app-config/ --field host
  export DB_PASSWORD=$(kvref resolve '@Microsoft.KeyVault(SecretUri=https://my-vault.vault.azure.net/secrets/db-password/)')`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			svc, cleanup, err := newService(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			input := args[0]

			// Anything that is neither a reference string nor an entity URI
			// is a literal and prints unchanged.
			if !reference.IsReferenceString(input) {
				if _, err := reference.FromURI(input); err != nil {
					if field != "" {
						return kverrors.UserError{
							Message:    "--field needs a secret reference",
							Suggestion: "Pass a reference string or a secret URI",
						}
					}
					value, err := svc.Resolve(ctx, input, callOptions(cfg)...)
					if err != nil {
						return kverrors.VaultError("resolve", err)
					}
					return printValue(cmd.OutOrStdout(), value)
				}
			}

			e, err := svc.Get(input, callOptions(cfg)...)
			if err != nil {
				return kverrors.VaultError("reference parsing", err)
			}

			if field != "" {
				secret, err := e.SecretData(ctx)
				if err != nil {
					return kverrors.VaultError("resolve", err)
				}
				value, ok := secret.Lookup(field)
				if !ok {
					return kverrors.UserError{
						Message:    "Field not found in secret: " + field,
						Suggestion: "--field only applies to secrets with content type application/json",
					}
				}
				return printValue(cmd.OutOrStdout(), value)
			}

			value, err := e.ResolvedValue(ctx)
			if err != nil {
				return kverrors.VaultError("resolve", err)
			}
			cfg.Logger.Debug("resolved %s to %s", e.Reference().ReferenceString(), logging.Secret(fmt.Sprint(value)))
			return printValue(cmd.OutOrStdout(), value)
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Top-level field to print from a JSON secret")

	return cmd
}
