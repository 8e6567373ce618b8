package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/turnstile/internal/db"
	"github.com/BrandonDHaskell/turnstile/internal/httpapi"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := requireSQL(cfg); err != nil {
				return err
			}
			// Opening a SQL backend migrates it.
			conn, dialect, err := openSQL(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logger.Info("schema up to date", "dialect", dialect)
			return nil
		},
	}
}

func newSeedDevCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-dev",
		Short: "Insert the development accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := requireSQL(cfg); err != nil {
				return err
			}
			if cfg.Env == "prod" {
				return fmt.Errorf("refusing to seed dev accounts with env=prod")
			}
			conn, dialect, err := openSQL(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.SeedDev(cmd.Context(), conn, db.SeedDevOptions{Dialect: dialect}); err != nil {
				return err
			}
			for _, a := range db.DefaultDevAccounts {
				logger.Info("dev account", "account_id", a.ID, "card_id", a.CardID, "balance", a.Balance)
			}
			return nil
		},
	}
}

type issueTokenOptions struct {
	subject string
	name    string
	role    string
	ttl     time.Duration
}

func newIssueTokenCommand(opts *rootOptions) *cobra.Command {
	tok := &issueTokenOptions{}

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a staff session token for the event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			auth := httpapi.NewAuthenticator(nil, cfg.SessionSecret)
			signed, err := auth.IssueSession(tok.subject, tok.name, tok.role, tok.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&tok.subject, "subject", "", "staff user id (required)")
	cmd.Flags().StringVar(&tok.name, "name", "", "display name")
	cmd.Flags().StringVar(&tok.role, "role", "staff", "staff role")
	cmd.Flags().DurationVar(&tok.ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
