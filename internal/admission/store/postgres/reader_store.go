package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
)

type ReaderStore struct {
	db *sql.DB
}

func NewReaderStore(db *sql.DB) *ReaderStore {
	return &ReaderStore{db: db}
}

func (s *ReaderStore) Touch(ctx context.Context, rec store.ReaderRecord) error {
	id := strings.TrimSpace(rec.DeviceID)
	if id == "" {
		return nil
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	ms := rec.LastSeen.UTC().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO readers(reader_id, firmware_version, ip, first_seen_at_ms, last_seen_at_ms)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (reader_id) DO UPDATE SET
  firmware_version = COALESCE(NULLIF(EXCLUDED.firmware_version, ''), readers.firmware_version),
  ip               = COALESCE(NULLIF(EXCLUDED.ip, ''), readers.ip),
  last_seen_at_ms  = EXCLUDED.last_seen_at_ms`,
		id, strings.TrimSpace(rec.FirmwareVersion), strings.TrimSpace(rec.IP), ms)
	if err != nil {
		return fmt.Errorf("Touch upsert: %w", err)
	}
	return nil
}

func (s *ReaderStore) List(ctx context.Context) ([]store.ReaderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reader_id, firmware_version, ip, first_seen_at_ms, last_seen_at_ms FROM readers ORDER BY reader_id`)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()

	var out []store.ReaderRecord
	for rows.Next() {
		var (
			r               store.ReaderRecord
			firstMs, lastMs int64
		)
		if err := rows.Scan(&r.DeviceID, &r.FirmwareVersion, &r.IP, &firstMs, &lastMs); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		r.FirstSeen = time.UnixMilli(firstMs).UTC()
		r.LastSeen = time.UnixMilli(lastMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ReaderStore) PruneSilentSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM readers WHERE last_seen_at_ms < $1`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("PruneSilentSince: %w", err)
	}
	return res.RowsAffected()
}
