package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/kvref/internal/config"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/pkg/keyvault"
	"github.com/systmms/kvref/pkg/reference"
)

func NewReferenceCommand(cfg *config.Config) *cobra.Command {
	var (
		jsonOutput bool
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "reference <reference>",
		Short: "Normalize a Key Vault reference without contacting the vault",
		Long: `Parse a reference in any supported shape and print its normalized forms:
entity URI, canonical reference string, external cache key and token scope.

Use --as to re-type the reference, e.g. to get the key behind a certificate.

Examples:
  kvref reference '@Microsoft.KeyVault(VaultName=my-vault;SecretName=db-password)'
  kvref reference https://my-vault.vault.azure.net/certificates/api/v1 --as key --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			ref, err := reference.Parse(args[0])
			if err == nil && kind != "" {
				target, ok := reference.KindFromSegment(kind + "s")
				if !ok {
					return kverrors.UserError{
						Message:    "Unknown entity kind: " + kind,
						Suggestion: "Use key, secret or certificate",
					}
				}
				ref, err = ref.Convert(target)
			}
			if err != nil {
				return kverrors.VaultError("reference parsing", err)
			}

			info := map[string]string{
				"kind":      ref.Kind().String(),
				"vault":     ref.VaultName(),
				"name":      ref.Name(),
				"version":   ref.Version(),
				"uri":       ref.String(),
				"reference": ref.ReferenceString(),
				"cache_key": keyvault.CacheKey(cfg.Definition.CachePrefix(), ref),
				"scope":     ref.Scope(),
			}
			if jsonOutput {
				return printValue(cmd.OutOrStdout(), info)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, k := range []string{"kind", "vault", "name", "version", "uri", "reference", "cache_key", "scope"} {
				_, _ = fmt.Fprintf(w, "%s:\t%s\n", k, info[k])
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&kind, "as", "", "Re-type the reference as key, secret or certificate")

	return cmd
}
