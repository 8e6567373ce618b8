package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/turnstile/internal/config"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "turnstile",
		Short:         "RFID admission server",
		Long:          "Turnstile decides card presentations against account balances and streams every decision to staff dashboards.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default $TURNSTILE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedDevCommand(opts))
	cmd.AddCommand(newIssueTokenCommand(opts))

	return cmd
}

// load reads config and builds the logger every subcommand starts from.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Context(), o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel)
	if err != nil {
		logger.Warn("falling back to info logging", "err", err)
	}
	return cfg, logger, nil
}

func requireSQL(cfg *config.Config) error {
	if cfg.DBDriver == "memory" {
		return fmt.Errorf("db_driver=memory has no schema; choose sqlite or postgres")
	}
	return nil
}
