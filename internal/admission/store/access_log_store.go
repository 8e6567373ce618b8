package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
)

// UnknownAccountID marks attempts whose card matched no account. SQL stores
// persist it as NULL so the foreign key to accounts stays valid.
const UnknownAccountID = "unknown"

// AccessAttempt captures a single admission decision. Rows are append-only.
type AccessAttempt struct {
	ID                 string
	AccountID          string
	CardIDHash         []byte // blake2b-256 of the presented card id
	Outcome            types.Outcome
	Reason             string // empty means no reason
	DeviceID           string
	PointsDeducted     int
	IsGracePeriodEntry bool
	CreatedAt          time.Time
}

// AccessLogStore persists admission attempts.
type AccessLogStore interface {
	// Append stores rec and returns it with ID populated.
	Append(ctx context.Context, rec AccessAttempt) (AccessAttempt, error)
}
