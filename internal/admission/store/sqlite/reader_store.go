package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	dbpkg "github.com/BrandonDHaskell/turnstile/internal/db"
)

type ReaderStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewReaderStore(db *sql.DB, writer *dbpkg.Worker) *ReaderStore {
	return &ReaderStore{db: db, writer: writer}
}

// Touch upserts the reader row. Empty firmware/ip keep the stored values.
func (s *ReaderStore) Touch(ctx context.Context, rec store.ReaderRecord) error {
	id := strings.TrimSpace(rec.DeviceID)
	if id == "" {
		return nil
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	ms := rec.LastSeen.UTC().UnixMilli()
	fw := strings.TrimSpace(rec.FirmwareVersion)
	ip := strings.TrimSpace(rec.IP)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO readers(reader_id, firmware_version, ip, first_seen_at_ms, last_seen_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(reader_id) DO UPDATE SET
  firmware_version = CASE WHEN excluded.firmware_version = '' THEN readers.firmware_version ELSE excluded.firmware_version END,
  ip               = CASE WHEN excluded.ip = '' THEN readers.ip ELSE excluded.ip END,
  last_seen_at_ms  = excluded.last_seen_at_ms;
`, id, fw, ip, ms, ms); err != nil {
			return fmt.Errorf("Touch upsert: %w", err)
		}
		return nil
	})
}

func (s *ReaderStore) List(ctx context.Context) ([]store.ReaderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT reader_id, firmware_version, ip, first_seen_at_ms, last_seen_at_ms
FROM readers
ORDER BY reader_id;
`)
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

// PruneSilentSince deletes readers not heard from since cutoff.
// Uses idx_readers_last_seen.
func (s *ReaderStore) PruneSilentSince(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM readers WHERE last_seen_at_ms < ?;`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneSilentSince: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
