package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
)

// AccessLogStore is an in-memory append-only log of admission attempts.
// It is intended for use in tests and dev environments.
type AccessLogStore struct {
	mu       sync.Mutex
	attempts []store.AccessAttempt
}

func NewAccessLogStore() *AccessLogStore {
	return &AccessLogStore{}
}

func (s *AccessLogStore) Append(_ context.Context, rec store.AccessAttempt) (store.AccessAttempt, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, rec)
	return rec, nil
}

// Attempts returns a copy of all recorded attempts. Test-only helper.
func (s *AccessLogStore) Attempts() []store.AccessAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AccessAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
