package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DevAccount is one account created by SeedDev.
type DevAccount struct {
	ID      string
	Name    string
	Email   string
	CardID  string
	Balance int
}

// DefaultDevAccounts covers the common dashboard cases: a member with
// points, one with an empty balance and one with a single point left.
var DefaultDevAccounts = []DevAccount{
	{ID: "acct-alice", Name: "Alice Example", Email: "alice@example.test", CardID: "CARD-001", Balance: 5},
	{ID: "acct-bob", Name: "Bob Example", Email: "bob@example.test", CardID: "CARD-000", Balance: 0},
	{ID: "acct-carol", Name: "Carol Example", Email: "carol@example.test", CardID: "CARD-002", Balance: 1},
}

type SeedDevOptions struct {
	Dialect  Dialect
	Accounts []DevAccount // nil means DefaultDevAccounts
}

// SeedDev inserts dev accounts, leaving existing rows untouched so balances
// consumed during a dev session survive a restart.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.Dialect == "" {
		opt.Dialect = DialectSQLite
	}
	accounts := opt.Accounts
	if accounts == nil {
		accounts = DefaultDevAccounts
	}
	now := time.Now().UTC().UnixMilli()

	q := Rebind(opt.Dialect, `
INSERT INTO accounts(
  account_id, display_name, email, card_id, point_balance,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id) DO NOTHING;`)

	for _, a := range accounts {
		var card any
		if a.CardID != "" {
			card = a.CardID
		}
		if _, err := db.ExecContext(ctx, q,
			a.ID, a.Name, a.Email, card, a.Balance, now, now,
		); err != nil {
			return fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}
	return nil
}
