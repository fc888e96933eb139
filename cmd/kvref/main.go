package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/systmms/kvref/cmd/kvref/commands"
	"github.com/systmms/kvref/internal/config"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	memguard.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", kverrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
		credential string
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "kvref",
		Short: "Resolve Azure Key Vault references",
		Long: `kvref resolves Azure Key Vault references such as
@Microsoft.KeyVault(VaultName=my-vault;SecretName=db-password) into the
values they point at, and signs or verifies data with vault keys.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.Credential = credential
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "kvref.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&credential, "credential", "", "Credential name (defaults to the configured credential)")

	rootCmd.AddCommand(
		commands.NewResolveCommand(cfg),
		commands.NewReferenceCommand(cfg),
		commands.NewSignCommand(cfg),
		commands.NewVerifyCommand(cfg),
		commands.NewTokenCommand(cfg),
		commands.NewDoctorCommand(cfg),
	)

	return rootCmd.Execute()
}
