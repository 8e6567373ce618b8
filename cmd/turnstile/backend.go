package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	"github.com/BrandonDHaskell/turnstile/internal/admission/store/memory"
	"github.com/BrandonDHaskell/turnstile/internal/admission/store/postgres"
	"github.com/BrandonDHaskell/turnstile/internal/admission/store/sqlite"
	"github.com/BrandonDHaskell/turnstile/internal/config"
	"github.com/BrandonDHaskell/turnstile/internal/db"
)

// backend is the set of stores selected by db_driver.
type backend struct {
	accounts store.AccountStore
	attempts store.AccessLogStore
	readers  store.ReaderStore
	close    func()
}

// openSQL opens and migrates the configured database. The dialect tells
// callers how to seed it.
func openSQL(ctx context.Context, cfg *config.Config) (*sql.DB, db.Dialect, error) {
	switch cfg.DBDriver {
	case "sqlite":
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		return conn, db.DialectSQLite, err
	case "postgres":
		conn, err := db.OpenPostgres(ctx, cfg.PostgresDSN)
		return conn, db.DialectPostgres, err
	default:
		return nil, "", fmt.Errorf("db_driver %q is not a SQL backend", cfg.DBDriver)
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.DBDriver == "memory" {
		logger.Warn("using in-memory stores; balances and the access log are lost on exit")
		return &backend{
			accounts: memory.NewAccountStore(devAccounts(cfg)...),
			attempts: memory.NewAccessLogStore(),
			readers:  memory.NewReaderStore(),
			close:    func() {},
		}, nil
	}

	conn, dialect, err := openSQL(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Dialect: dialect}); err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("dev accounts seeded", "dialect", dialect)
	}

	if dialect == db.DialectPostgres {
		return &backend{
			accounts: postgres.NewAccountStore(conn),
			attempts: postgres.NewAccessLogStore(conn),
			readers:  postgres.NewReaderStore(conn),
			close:    func() { _ = conn.Close() },
		}, nil
	}

	writer := db.NewWorker(conn)
	return &backend{
		accounts: sqlite.NewAccountStore(conn, writer),
		attempts: sqlite.NewAccessLogStore(conn, writer),
		readers:  sqlite.NewReaderStore(conn, writer),
		close: func() {
			writer.Close()
			_ = conn.Close()
		},
	}, nil
}

// devAccounts returns the seed accounts for the memory backend in dev.
func devAccounts(cfg *config.Config) []store.Account {
	if cfg.Env != "dev" {
		return nil
	}
	out := make([]store.Account, 0, len(db.DefaultDevAccounts))
	for _, a := range db.DefaultDevAccounts {
		card := a.CardID
		out = append(out, store.Account{
			ID:           a.ID,
			Name:         a.Name,
			Email:        a.Email,
			CardID:       &card,
			PointBalance: a.Balance,
		})
	}
	return out
}
