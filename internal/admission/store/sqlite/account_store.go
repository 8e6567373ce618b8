package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	dbpkg "github.com/BrandonDHaskell/turnstile/internal/db"
)

type AccountStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccountStore(db *sql.DB, writer *dbpkg.Worker) *AccountStore {
	return &AccountStore{db: db, writer: writer}
}

const selectAccount = `
SELECT account_id, display_name, email, card_id, point_balance, last_check_in_ms
FROM accounts
`

func (s *AccountStore) FindByCardID(ctx context.Context, cardID string) (store.Account, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return store.Account{}, store.ErrAccountNotFound
	}
	row := s.db.QueryRowContext(ctx, selectAccount+`WHERE card_id = ?;`, cardID)
	a, err := scanAccount(row)
	if err != nil {
		return store.Account{}, fmt.Errorf("FindByCardID: %w", err)
	}
	return a, nil
}

func (s *AccountStore) Get(ctx context.Context, accountID string) (store.Account, error) {
	row := s.db.QueryRowContext(ctx, selectAccount+`WHERE account_id = ?;`, accountID)
	a, err := scanAccount(row)
	if err != nil {
		return store.Account{}, fmt.Errorf("Get: %w", err)
	}
	return a, nil
}

// ConsumePoint is one conditional UPDATE. A zero balance at write time
// matches no row and yields ErrNoPoints.
func (s *AccountStore) ConsumePoint(ctx context.Context, accountID string, at time.Time) (int, error) {
	ms := at.UTC().UnixMilli()

	var remaining int
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
UPDATE accounts
SET point_balance    = point_balance - 1,
    last_check_in_ms = ?,
    updated_at_ms    = ?
WHERE account_id = ? AND point_balance > 0
RETURNING point_balance;
`, ms, ms, accountID).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			return noPointsOrMissing(ctx, tx, accountID)
		}
		if err != nil {
			return fmt.Errorf("ConsumePoint update: %w", err)
		}
		return nil
	})
	return remaining, err
}

func (s *AccountStore) RecordCheckIn(ctx context.Context, accountID string, at time.Time) (int, error) {
	ms := at.UTC().UnixMilli()

	var balance int
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
UPDATE accounts
SET last_check_in_ms = ?,
    updated_at_ms    = ?
WHERE account_id = ?
RETURNING point_balance;
`, ms, ms, accountID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("RecordCheckIn update: %w", err)
		}
		return nil
	})
	return balance, err
}

// noPointsOrMissing tells a zero balance apart from an unknown account
// after the conditional UPDATE matched nothing.
func noPointsOrMissing(ctx context.Context, tx *sql.Tx, accountID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE account_id = ?;`, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("ConsumePoint lookup: %w", err)
	}
	return store.ErrNoPoints
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (store.Account, error) {
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
