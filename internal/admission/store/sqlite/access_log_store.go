package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	dbpkg "github.com/BrandonDHaskell/turnstile/internal/db"
)

type AccessLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessLogStore(db *sql.DB, writer *dbpkg.Worker) *AccessLogStore {
	return &AccessLogStore{db: db, writer: writer}
}

func (s *AccessLogStore) Append(ctx context.Context, rec store.AccessAttempt) (store.AccessAttempt, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	args := attemptArgs(rec)

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO access_attempts(
  account_id, card_id_hash, outcome, reason, device_id,
  points_deducted, is_grace_period, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, args...)
		if err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return store.AccessAttempt{}, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	return rec, nil
}

// attemptArgs maps rec onto the eight insert columns, in order.
func attemptArgs(rec store.AccessAttempt) []any {
	var accountID any
	if rec.AccountID != "" && rec.AccountID != store.UnknownAccountID {
		accountID = rec.AccountID
	}
	var hash any
	if len(rec.CardIDHash) == 32 {
		hash = rec.CardIDHash
	}
	var reason any
	if rec.Reason != "" {
		reason = rec.Reason
	}
	var grace int
	if rec.IsGracePeriodEntry {
		grace = 1
	}
	return []any{
		accountID, hash, string(rec.Outcome), reason, rec.DeviceID,
		rec.PointsDeducted, grace, rec.CreatedAt.UTC().UnixMilli(),
	}
}
