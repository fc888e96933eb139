package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/spf13/cobra"
	"github.com/systmms/kvref/internal/config"
	"github.com/systmms/kvref/internal/credentials"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/pkg/cachestore"
)

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var (
		vaults []string
		purge  bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and cache connectivity",
		Long: `Verify that kvref is properly configured.

This command checks:
- Configuration file validity
- That every configured credential can be constructed
- Cache store connectivity (with --purge, expired SQL cache rows are deleted)
- Vault access, for each vault passed with --vault (lists one page of secrets)

Example:
  kvref doctor --vault https://my-vault.vault.azure.net`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking kvref configuration...")
			if err := cfg.Load(); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return err
			}
			cfg.Logger.Info("Configuration loaded successfully")

			ctx := cmd.Context()
			registry := credentials.NewRegistry(cfg)
			defer registry.Close()

			results := checkCredentials(registry, cfg)
			results = append(results, checkCache(ctx, cfg, purge))
			for _, vault := range vaults {
				results = append(results, checkVault(ctx, registry, cfg, vault))
			}

			displayHealthResults(cmd.OutOrStdout(), results)

			healthy := 0
			for _, result := range results {
				if result.Status == statusHealthy || result.Status == statusSkipped {
					healthy++
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d checks passed\n", healthy, len(results))
			if healthy < len(results) {
				return kverrors.UserError{
					Message:    fmt.Sprintf("%d check(s) failed", len(results)-healthy),
					Suggestion: "Run with --debug for details",
				}
			}
			cfg.Logger.Info("All checks passed")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&vaults, "vault", nil, "Vault URL to probe (repeatable)")
	cmd.Flags().BoolVar(&purge, "purge", false, "Delete expired entries from SQL cache stores")

	return cmd
}

const (
	statusHealthy = "healthy"
	statusError   = "error"
	statusSkipped = "skipped"
)

// CheckResult represents the outcome of one doctor check
type CheckResult struct {
	Name    string
	Type    string
	Status  string
	Message string
}

func checkCredentials(registry *credentials.Registry, cfg *config.Config) []CheckResult {
	names := make([]string, 0, len(cfg.Definition.Credentials)+1)
	for name := range cfg.Definition.Credentials {
		names = append(names, name)
	}
	if def := cfg.DefaultCredential(); !slices.Contains(names, def) {
		names = append(names, def)
	}
	slices.Sort(names)

	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		result := CheckResult{Name: "credential " + name, Type: "default"}
		if credCfg, err := cfg.GetCredential(name); err == nil {
			result.Type = credCfg.Type
		}
		if _, err := registry.Credential(name); err != nil {
			result.Status = statusError
			result.Message = describe(err)
		} else {
			result.Status = statusHealthy
			result.Message = "credential ready"
		}
		if name == cfg.DefaultCredential() {
			result.Message += " (default)"
		}
		results = append(results, result)
	}
	return results
}

func checkCache(ctx context.Context, cfg *config.Config, purge bool) CheckResult {
	def := cfg.Definition
	result := CheckResult{Name: "cache", Type: "memory"}
	if !def.CacheEnabled() {
		result.Type = "-"
		result.Status = statusSkipped
		result.Message = "external cache disabled"
		return result
	}

	timeout := config.StoreConfig{}.GetStoreTimeout()
	if def.Cache.Store != "" {
		result.Name = "cache " + def.Cache.Store
		if storeCfg, err := cfg.GetStore(def.Cache.Store); err == nil {
			result.Type = storeCfg.Type
			timeout = storeCfg.GetStoreTimeout()
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		result.Status = statusError
		result.Message = describe(err)
		return result
	}
	defer func() { _ = store.Close() }()

	storeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	note, err := maintainStore(storeCtx, store, purge)
	if err != nil {
		result.Status = statusError
		result.Message = describe(err)
		return result
	}
	result.Status = statusHealthy
	result.Message = fmt.Sprintf("prefix %q, ttl %s%s", def.CachePrefix(), def.CacheTTL(), note)
	return result
}

// maintainStore pings the store and, when asked, purges expired entries from
// stores that keep them until deleted.
func maintainStore(ctx context.Context, store cachestore.Store, purge bool) (string, error) {
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return "", err
		}
	}
	if !purge {
		return "", nil
	}
	purger, ok := store.(interface {
		Purge(context.Context) (int64, error)
	})
	if !ok {
		return ", nothing to purge", nil
	}
	n, err := purger.Purge(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(", purged %d expired entries", n), nil
}

func checkVault(ctx context.Context, registry *credentials.Registry, cfg *config.Config, vaultURL string) CheckResult {
	result := CheckResult{Name: vaultURL, Type: "vault"}

	cred, err := registry.Credential(cfg.DefaultCredential())
	if err != nil {
		result.Status = statusError
		result.Message = describe(err)
		return result
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		result.Status = statusError
		result.Message = describe(err)
		return result
	}

	pager := client.NewListSecretPropertiesPager(nil)
	page, err := pager.NextPage(ctx)
	if err != nil {
		result.Status = statusError
		result.Message = describe(err)
		return result
	}
	result.Status = statusHealthy
	result.Message = fmt.Sprintf("%d secret(s) visible on the first page", len(page.Value))
	return result
}

// displayHealthResults shows check results in a formatted table
func displayHealthResults(out io.Writer, results []CheckResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tTYPE\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t----\t------\t-------\n")

	for _, result := range results {
		status := result.Status
		switch result.Status {
		case statusHealthy:
			status = "✓ " + status
		case statusError:
			status = "✗ " + status
		default:
			status = "- " + status
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", result.Name, result.Type, status, result.Message)
	}
	_ = w.Flush()
}

// describe condenses an error to one table cell.
func describe(err error) string {
	var userErr kverrors.UserError
	if errors.As(err, &userErr) && userErr.Details != "" {
		return userErr.Message + ": " + firstLine(userErr.Details)
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
