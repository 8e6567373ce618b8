package store

import (
	"context"
	"time"
)

// Account is the credential directory row the engine reads and mutates.
type Account struct {
	ID           string
	Name         string
	Email        string
	CardID       *string // nil when no physical credential is bound
	PointBalance int
	LastCheckIn  *time.Time
}

// AccountStore is the credential directory.
//
// PointBalance must only change through ConsumePoint, which is a single
// conditional write; callers never compute a new balance themselves.
type AccountStore interface {
	FindByCardID(ctx context.Context, cardID string) (Account, error)
	Get(ctx context.Context, accountID string) (Account, error)

	// ConsumePoint decrements the balance by one only if it is positive at
	// write time, sets LastCheckIn to at and returns the new balance.
	ConsumePoint(ctx context.Context, accountID string, at time.Time) (int, error)

	// RecordCheckIn sets LastCheckIn without touching the balance and
	// returns the current balance.
	RecordCheckIn(ctx context.Context, accountID string, at time.Time) (int, error)
}
