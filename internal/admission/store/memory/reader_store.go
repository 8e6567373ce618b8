package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
)

type ReaderStore struct {
	mu      sync.RWMutex
	readers map[string]store.ReaderRecord
}

func NewReaderStore() *ReaderStore {
	return &ReaderStore{readers: make(map[string]store.ReaderRecord)}
}

func (s *ReaderStore) Touch(_ context.Context, rec store.ReaderRecord) error {
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.readers[rec.DeviceID]
	if !ok {
		rec.FirstSeen = rec.LastSeen
		s.readers[rec.DeviceID] = rec
		return nil
	}
	existing.LastSeen = rec.LastSeen
	if rec.FirmwareVersion != "" {
		existing.FirmwareVersion = rec.FirmwareVersion
	}
	if rec.IP != "" {
		existing.IP = rec.IP
	}
	s.readers[rec.DeviceID] = existing
	return nil
}

func (s *ReaderStore) List(_ context.Context) ([]store.ReaderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.ReaderRecord, 0, len(s.readers))
	for _, r := range s.readers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *ReaderStore) PruneSilentSince(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.readers {
		if r.LastSeen.Before(cutoff) {
			delete(s.readers, id)
			n++
		}
	}
	return n, nil
}
