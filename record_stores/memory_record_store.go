package record_stores

import (
	"context"
	"sync"

	"github.com/eigerteam/waitlist_gate"
)

var (
	_ waitlist_gate.RecordStore = &memoryRecordStore{}
)

type memoryRecordStore struct {
	mu      sync.Mutex
	records map[string][]int64
}

// NewMemoryRecordStore keeps records in process memory. Records are lost on
// restart, which only loosens the limit.
func NewMemoryRecordStore() waitlist_gate.RecordStore {
	return &memoryRecordStore{records: make(map[string][]int64)}
}

func (s *memoryRecordStore) ReadRecord(_ context.Context, key string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := make([]int64, len(ts))
	copy(out, ts)
	return out, nil
}

func (s *memoryRecordStore) WriteRecord(_ context.Context, key string, timestamps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(timestamps) == 0 {
		delete(s.records, key)
		return nil
	}
	stored := make([]int64, len(timestamps))
	copy(stored, timestamps)
	s.records[key] = stored
	return nil
}
