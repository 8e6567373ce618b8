package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
)

// AccountStore is an in-memory credential directory. The mutex makes
// ConsumePoint's check-and-decrement a single atomic step.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]store.Account
	byCard   map[string]string
}

func NewAccountStore(accounts ...store.Account) *AccountStore {
	s := &AccountStore{
		accounts: make(map[string]store.Account, len(accounts)),
		byCard:   make(map[string]string, len(accounts)),
	}
	for _, a := range accounts {
		s.Put(a)
	}
	return s
}

// Put inserts or replaces an account. Used by tests and the dev seeder.
func (s *AccountStore) Put(a store.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.accounts[a.ID]; ok && old.CardID != nil {
		delete(s.byCard, *old.CardID)
	}
	s.accounts[a.ID] = a
	if a.CardID != nil {
		s.byCard[strings.TrimSpace(*a.CardID)] = a.ID
	}
}

func (s *AccountStore) FindByCardID(_ context.Context, cardID string) (store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCard[cardID]
	if !ok {
		return store.Account{}, store.ErrAccountNotFound
	}
	return s.accounts[id], nil
}

func (s *AccountStore) Get(_ context.Context, accountID string) (store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.Account{}, store.ErrAccountNotFound
	}
	return a, nil
}

func (s *AccountStore) ConsumePoint(_ context.Context, accountID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return 0, store.ErrAccountNotFound
	}
	if a.PointBalance <= 0 {
		return 0, store.ErrNoPoints
	}
	a.PointBalance--
	t := at.UTC()
	a.LastCheckIn = &t
	s.accounts[accountID] = a
	return a.PointBalance, nil
}

func (s *AccountStore) RecordCheckIn(_ context.Context, accountID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return 0, store.ErrAccountNotFound
	}
	t := at.UTC()
	a.LastCheckIn = &t
	s.accounts[accountID] = a
	return a.PointBalance, nil
}
