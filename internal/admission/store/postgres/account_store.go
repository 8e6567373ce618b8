package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

const selectAccount = `SELECT account_id, display_name, email, card_id, point_balance, last_check_in_ms FROM accounts `

func (s *AccountStore) FindByCardID(ctx context.Context, cardID string) (store.Account, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return store.Account{}, store.ErrAccountNotFound
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx, selectAccount+`WHERE card_id = $1`, cardID))
	if err != nil {
		return store.Account{}, fmt.Errorf("FindByCardID: %w", err)
	}
	return a, nil
}

func (s *AccountStore) Get(ctx context.Context, accountID string) (store.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, selectAccount+`WHERE account_id = $1`, accountID))
	if err != nil {
		return store.Account{}, fmt.Errorf("Get: %w", err)
	}
	return a, nil
}

func (s *AccountStore) ConsumePoint(ctx context.Context, accountID string, at time.Time) (int, error) {
	ms := at.UTC().UnixMilli()

	var remaining int
	err := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET point_balance = point_balance - 1, last_check_in_ms = $1, updated_at_ms = $1 `+
			`WHERE account_id = $2 AND point_balance > 0 RETURNING point_balance`,
		ms, accountID,
	).Scan(&remaining)
	switch {
	case err == nil:
		return remaining, nil
	case isCheckViolation(err):
		return 0, store.ErrNoPoints
	case errors.Is(err, sql.ErrNoRows):
		if _, getErr := s.Get(ctx, accountID); getErr != nil {
			return 0, getErr
		}
		return 0, store.ErrNoPoints
	default:
		return 0, fmt.Errorf("ConsumePoint: %w", err)
	}
}

func (s *AccountStore) RecordCheckIn(ctx context.Context, accountID string, at time.Time) (int, error) {
	ms := at.UTC().UnixMilli()

	var balance int
	err := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET last_check_in_ms = $1, updated_at_ms = $1 WHERE account_id = $2 RETURNING point_balance`,
		ms, accountID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("RecordCheckIn: %w", err)
	}
	return balance, nil
}

func scanAccount(row *sql.Row) (store.Account, error) {
	var (
		a         store.Account
		card      sql.NullString
		lastCheck sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &card, &a.PointBalance, &lastCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, store.ErrAccountNotFound
	}
	if err != nil {
		return store.Account{}, err
	}
	if card.Valid {
		c := card.String
		a.CardID = &c
	}
	if lastCheck.Valid {
		t := time.UnixMilli(lastCheck.Int64).UTC()
		a.LastCheckIn = &t
	}
	return a, nil
}
