package waitlist_stores

import (
	"context"
	"sort"
	"sync"

	"github.com/eigerteam/waitlist_gate"
)

var (
	_ waitlist_gate.Store = &MemoryStore{}
)

// MemoryStore keeps the waitlist in process memory. Insert enforces email
// uniqueness the way a unique index would.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]waitlist_gate.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]waitlist_gate.Entry)}
}

func (s *MemoryStore) Exists(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[email]
	return ok, nil
}

func (s *MemoryStore) Insert(ctx context.Context, entry waitlist_gate.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.Email]; ok {
		return waitlist_gate.ErrDuplicate
	}
	s.entries[entry.Email] = entry
	return nil
}

// Entries returns every stored entry, oldest first.
func (s *MemoryStore) Entries() []waitlist_gate.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]waitlist_gate.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
