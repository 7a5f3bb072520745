package waitlist_gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eigerteam/waitlist_gate/internal/logger"
)

const (
	// Window is the trailing period a recorded submission counts against.
	Window = time.Hour
	// MaxSubmissions is how many successful submissions fit in one Window.
	MaxSubmissions = 3
	// DefaultRecordKey names the record used when no client key is given.
	DefaultRecordKey = "waitlist_submissions"
)

// ErrCorruptRecord is returned by record stores whose stored content cannot
// be decoded into timestamps.
var ErrCorruptRecord = errors.New("rate limit record is corrupt")

// State represents the result of rate limiting.
type State int64

const (
	Deny State = iota
	Allow
)

// State strings for HTTP headers
var stateStrings = map[State]string{
	Allow: "Allow",
	Deny:  "Deny",
}

func (s State) String() string {
	return stateStrings[s]
}

// Status is the outcome of a rate limit check. ResetAt is only set when the
// check denies and marks the earliest instant a slot frees up. CheckedAt is
// the limiter's clock reading the check was made at.
type Status struct {
	State     State
	Remaining int
	ResetAt   time.Time
	CheckedAt time.Time
}

// Allowed reports whether another submission may go through.
func (s Status) Allowed() bool {
	return s.State == Allow
}

// RetryAfter is how long a denied client has to wait, measured on the
// limiter's clock. It is zero for an allowed check.
func (s Status) RetryAfter() time.Duration {
	if s.Allowed() || !s.ResetAt.After(s.CheckedAt) {
		return 0
	}
	return s.ResetAt.Sub(s.CheckedAt)
}

// RecordStore persists rate-limit records: ordered epoch-millisecond
// timestamps under a key. ReadRecord returns nil, nil for a missing record.
type RecordStore interface {
	ReadRecord(ctx context.Context, key string) ([]int64, error)
	WriteRecord(ctx context.Context, key string, timestamps []int64) error
}

// SubmissionLimiter bounds successful submissions per client installation to
// MaxSubmissions per Window.
type SubmissionLimiter struct {
	store   RecordStore
	now     func() time.Time
	key     string
	degrade bool
}

type LimiterOption func(*SubmissionLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *SubmissionLimiter) { l.now = now }
}

// WithRecordKey changes the base record key.
func WithRecordKey(key string) LimiterOption {
	return func(l *SubmissionLimiter) {
		if key != "" {
			l.key = key
		}
	}
}

// WithDegradeOnStorageError controls what happens when the record store
// fails. When true (the default) Check allows and Record is a no-op; when
// false the store error is returned to the caller.
func WithDegradeOnStorageError(degrade bool) LimiterOption {
	return func(l *SubmissionLimiter) { l.degrade = degrade }
}

// NewSubmissionLimiter creates a limiter over store.
func NewSubmissionLimiter(store RecordStore, opts ...LimiterOption) *SubmissionLimiter {
	l := &SubmissionLimiter{
		store:   store,
		now:     time.Now,
		key:     DefaultRecordKey,
		degrade: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check prunes the client's record and reports whether it may submit.
// An empty client selects the default record.
func (l *SubmissionLimiter) Check(ctx context.Context, client string) (Status, error) {
	now := l.now()
	key := l.recordKey(client)

	live, err := l.prune(ctx, key, now)
	if err == nil {
		err = l.store.WriteRecord(ctx, key, live)
	}
	if err != nil {
		if l.degrade {
			logger.Warn("rate limit store unavailable, allowing submission", "key", key, "error", err)
			return Status{State: Allow, Remaining: MaxSubmissions, CheckedAt: now}, nil
		}
		return Status{}, fmt.Errorf("checking rate limit record %v: %w", key, err)
	}

	if len(live) >= MaxSubmissions {
		return Status{
			State:     Deny,
			Remaining: 0,
			ResetAt:   time.UnixMilli(live[0]).Add(Window),
			CheckedAt: now,
		}, nil
	}

	return Status{State: Allow, Remaining: MaxSubmissions - len(live), CheckedAt: now}, nil
}

// Record appends the current time to the client's record.
func (l *SubmissionLimiter) Record(ctx context.Context, client string) error {
	now := l.now()
	key := l.recordKey(client)

	live, err := l.prune(ctx, key, now)
	if err == nil {
		err = l.store.WriteRecord(ctx, key, append(live, now.UnixMilli()))
	}
	if err != nil {
		if l.degrade {
			logger.Warn("rate limit store unavailable, submission not recorded", "key", key, "error", err)
			return nil
		}
		return fmt.Errorf("recording submission for %v: %w", key, err)
	}
	return nil
}

// prune reads the record and keeps the timestamps still inside the window,
// oldest first.
func (l *SubmissionLimiter) prune(ctx context.Context, key string, now time.Time) ([]int64, error) {
	timestamps, err := l.store.ReadRecord(ctx, key)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-Window).UnixMilli()
	live := make([]int64, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		if ts > cutoff {
			live = append(live, ts)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	return live, nil
}

func (l *SubmissionLimiter) recordKey(client string) string {
	if client == "" {
		return l.key
	}
	return l.key + ":" + client
}
