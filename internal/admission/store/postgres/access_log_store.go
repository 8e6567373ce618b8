package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
)

type AccessLogStore struct {
	db *sql.DB
}

func NewAccessLogStore(db *sql.DB) *AccessLogStore {
	return &AccessLogStore{db: db}
}

func (s *AccessLogStore) Append(ctx context.Context, rec store.AccessAttempt) (store.AccessAttempt, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

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

	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO access_attempts(
  account_id, card_id_hash, outcome, reason, device_id,
  points_deducted, is_grace_period, created_at_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING attempt_id`,
		accountID, hash, string(rec.Outcome), reason, rec.DeviceID,
		rec.PointsDeducted, rec.IsGracePeriodEntry, rec.CreatedAt.UTC().UnixMilli(),
	).Scan(&id)
	if err != nil {
		return store.AccessAttempt{}, fmt.Errorf("Append insert: %w", err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	return rec, nil
}
