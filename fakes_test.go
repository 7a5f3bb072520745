package waitlist_gate

import (
	"context"
	"sync"
	"time"
)

var testNow = time.Date(2026, time.October, 18, 10, 15, 30, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryRecordStore struct {
	mu       sync.Mutex
	records  map[string][]int64
	readErr  error
	writeErr error
	writes   int
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{records: make(map[string][]int64)}
}

func (s *memoryRecordStore) ReadRecord(_ context.Context, key string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	ts, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return append([]int64(nil), ts...), nil
}

func (s *memoryRecordStore) WriteRecord(_ context.Context, key string, timestamps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	stored := make([]int64, len(timestamps))
	copy(stored, timestamps)
	s.records[key] = stored
	return nil
}

func (s *memoryRecordStore) record(key string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key]
}

type fakeStore struct {
	mu          sync.Mutex
	entries     map[string]Entry
	existsErr   error
	insertErr   error
	blindExists bool
	panicOn     string
	blockCalls  bool
	existsCalls int
	insertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]Entry)}
}

func (s *fakeStore) Exists(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	s.existsCalls++
	if s.panicOn == "exists" {
		s.mu.Unlock()
		panic("exists exploded")
	}
	block := s.blockCalls
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if s.blindExists {
		return false, nil
	}
	_, ok := s.entries[email]
	return ok, nil
}

func (s *fakeStore) Insert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.entries[entry.Email]; ok {
		return ErrDuplicate
	}
	s.entries[entry.Email] = entry
	return nil
}

func (s *fakeStore) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsCalls, s.insertCalls
}
