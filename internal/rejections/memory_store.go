package rejections

import (
	"context"
	"sync"
)

// MemoryStore is the in-process fallback used when no redis is
// configured. Rejections do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	sets map[int64]map[int64]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[int64]map[int64]struct{})}
}

func (s *MemoryStore) Reject(_ context.Context, userID, textID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[userID]
	if !ok {
		set = make(map[int64]struct{})
		s.sets[userID] = set
	}
	set[textID] = struct{}{}
	return nil
}

func (s *MemoryStore) Rejected(_ context.Context, userID int64) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]struct{}, len(s.sets[userID]))
	for id := range s.sets[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
