package waitlist_gate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	gate    *Gate
	store   *fakeStore
	records *memoryRecordStore
	clock   *testClock
}

func newGateFixture(opts ...GateOption) *gateFixture {
	f := &gateFixture{
		store:   newFakeStore(),
		records: newMemoryRecordStore(),
		clock:   newTestClock(),
	}
	limiter := NewSubmissionLimiter(f.records, WithClock(f.clock.Now))
	f.gate = NewGate(f.store, limiter, append([]GateOption{WithGateClock(f.clock.Now)}, opts...)...)
	return f
}

func TestGate_FreshEmailIsStored(t *testing.T) {
	f := newGateFixture()

	res := f.gate.Submit(context.Background(), "  Hiker@Eiger.App ", "")

	assert.Equal(t, Result{Success: true, Kind: Accepted}, res)
	require.Contains(t, f.store.entries, "hiker@eiger.app")
	assert.True(t, f.store.entries["hiker@eiger.app"].CreatedAt.Equal(testNow))
	assert.Equal(t, []int64{testNow.UnixMilli()}, f.records.record(DefaultRecordKey))
}

func TestGate_SameEmailTwice(t *testing.T) {
	tt := []struct {
		desc        string
		blindExists bool
	}{
		{desc: "duplicate check sees the first insert"},
		{desc: "duplicate check is stale and the store constraint catches it", blindExists: true},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			f := newGateFixture()
			f.store.blindExists = ts.blindExists
			ctx := context.Background()

			first := f.gate.Submit(ctx, "hiker@eiger.app", "")
			second := f.gate.Submit(ctx, "hiker@eiger.app", "")

			assert.True(t, first.Success)
			assert.False(t, second.Success)
			assert.Equal(t, MsgDuplicate, second.Error)
			assert.Equal(t, Duplicate, second.Kind)
			assert.Len(t, f.store.entries, 1)
			assert.Len(t, f.records.record(DefaultRecordKey), 1)
		})
	}
}

func TestGate_ConcurrentSameEmailReturnsWellFormedResults(t *testing.T) {
	f := newGateFixture()
	f.store.blindExists = true

	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- f.gate.Submit(context.Background(), "hiker@eiger.app", "") }()
	}

	successes := 0
	for i := 0; i < 2; i++ {
		res := <-results
		if res.Success {
			successes++
			assert.Empty(t, res.Error)
			continue
		}
		assert.Equal(t, MsgDuplicate, res.Error)
	}
	assert.GreaterOrEqual(t, successes, 1)
	assert.Len(t, f.store.entries, 1)
}

func TestGate_HoneypotIsSilentlyAccepted(t *testing.T) {
	f := newGateFixture()

	res := f.gate.Submit(context.Background(), "not even an email", "bot-value")

	assert.Equal(t, Result{Success: true, Kind: Accepted}, res)
	exists, inserts := f.store.calls()
	assert.Zero(t, exists)
	assert.Zero(t, inserts)
	assert.Zero(t, f.records.writes)
}

func TestGate_HoneypotRejectedWhenNotSilent(t *testing.T) {
	f := newGateFixture(WithSilentlyAcceptBots(false))

	res := f.gate.Submit(context.Background(), "hiker@eiger.app", "bot-value")

	assert.False(t, res.Success)
	assert.Equal(t, BotRejected, res.Kind)
	assert.Equal(t, MsgBotRejected, res.Error)
	assert.Empty(t, f.store.entries)
}

func TestGate_FourthSubmissionWithinWindowIsRateLimited(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	for i := 0; i < MaxSubmissions; i++ {
		res := f.gate.Submit(ctx, fmt.Sprintf("hiker%d@eiger.app", i), "")
		require.True(t, res.Success, res.Error)
		f.clock.Advance(5 * time.Minute)
	}

	res := f.gate.Submit(ctx, "late@eiger.app", "")

	assert.False(t, res.Success)
	assert.Equal(t, RateLimited, res.Kind)
	assert.Equal(t, "Too many attempts. Please try again in 45 minutes.", res.Error)
	assert.Equal(t, 45*time.Minute, res.RetryAfter)

	exists, inserts := f.store.calls()
	assert.Equal(t, MaxSubmissions, exists)
	assert.Equal(t, MaxSubmissions, inserts)
	assert.NotContains(t, f.store.entries, "late@eiger.app")

	f.clock.Advance(45 * time.Minute)
	assert.True(t, f.gate.Submit(ctx, "late@eiger.app", "").Success)
}

func TestGate_RateLimitIsPerClient(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	for i := 0; i < MaxSubmissions; i++ {
		require.True(t, f.gate.SubmitFrom(ctx, "install-a", fmt.Sprintf("a%d@eiger.app", i), "").Success)
	}

	assert.Equal(t, RateLimited, f.gate.SubmitFrom(ctx, "install-a", "a9@eiger.app", "").Kind)
	assert.True(t, f.gate.SubmitFrom(ctx, "install-b", "b0@eiger.app", "").Success)
}

func TestGate_FailedChecksDoNotConsumeAllowance(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.Equal(t, InvalidFormat, f.gate.Submit(ctx, "nope", "").Kind)
	}

	assert.Empty(t, f.records.record(DefaultRecordKey))
	assert.True(t, f.gate.Submit(ctx, "hiker@eiger.app", "").Success)
}

func TestGate_ValidationFailures(t *testing.T) {
	tt := []struct {
		desc  string
		email string
		kind  Kind
		msg   string
	}{
		{desc: "bad format", email: "a@b.c", kind: InvalidFormat, msg: MsgInvalidFormat},
		{desc: "empty", email: "", kind: InvalidFormat, msg: MsgInvalidFormat},
		{desc: "disposable domain", email: "Someone@Mailinator.com", kind: DisposableDomain, msg: MsgDisposableDomain},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			f := newGateFixture()

			res := f.gate.Submit(context.Background(), ts.email, "")

			assert.Equal(t, Result{Success: false, Error: ts.msg, Kind: ts.kind}, res)
			exists, inserts := f.store.calls()
			assert.Zero(t, exists)
			assert.Zero(t, inserts)
		})
	}
}

func TestGate_CustomDisposableFilter(t *testing.T) {
	f := newGateFixture(WithDisposableFilter(NewDisposableFilter("burner.example")))

	res := f.gate.Submit(context.Background(), "a@burner.example", "")
	assert.Equal(t, DisposableDomain, res.Kind)
}

func TestGate_PersistenceFailures(t *testing.T) {
	boom := errors.New("500 from upstream")

	tt := []struct {
		desc      string
		existsErr error
		insertErr error
		kind      Kind
		msg       string
	}{
		{desc: "duplicate check fails", existsErr: boom, kind: PersistenceFailure, msg: MsgPersistenceFailure},
		{desc: "insert fails", insertErr: boom, kind: PersistenceFailure, msg: MsgPersistenceFailure},
		{desc: "insert hits the unique constraint", insertErr: fmt.Errorf("insert: %w", ErrDuplicate), kind: Duplicate, msg: MsgDuplicate},
		{desc: "insert times out", insertErr: fmt.Errorf("post: %w", context.DeadlineExceeded), kind: PersistenceFailure, msg: MsgPersistenceFailure},
		{desc: "duplicate check is cancelled", existsErr: fmt.Errorf("get: %w", context.Canceled), kind: PersistenceFailure, msg: MsgPersistenceFailure},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			f := newGateFixture()
			f.store.existsErr = ts.existsErr
			f.store.insertErr = ts.insertErr

			res := f.gate.Submit(context.Background(), "hiker@eiger.app", "")

			assert.Equal(t, Result{Success: false, Error: ts.msg, Kind: ts.kind}, res)
			assert.Empty(t, f.records.record(DefaultRecordKey))
		})
	}
}

func TestGate_CallTimeoutBoundsStoreCalls(t *testing.T) {
	f := newGateFixture(WithCallTimeout(20 * time.Millisecond))
	f.store.blockCalls = true

	start := time.Now()
	res := f.gate.Submit(context.Background(), "hiker@eiger.app", "")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Result{Success: false, Error: MsgPersistenceFailure, Kind: PersistenceFailure}, res)
}

func TestGate_PanicIsRecovered(t *testing.T) {
	f := newGateFixture()
	f.store.panicOn = "exists"

	var res Result
	assert.NotPanics(t, func() {
		res = f.gate.Submit(context.Background(), "hiker@eiger.app", "")
	})
	assert.Equal(t, Result{Success: false, Error: MsgUnexpectedFailure, Kind: UnexpectedFailure}, res)
}

func TestGate_RecordStoreFailures(t *testing.T) {
	t.Run("degrading limiter lets the signup through", func(t *testing.T) {
		f := newGateFixture()
		f.records.readErr = ErrCorruptRecord

		res := f.gate.Submit(context.Background(), "hiker@eiger.app", "")

		assert.True(t, res.Success)
		assert.Contains(t, f.store.entries, "hiker@eiger.app")
	})

	t.Run("strict limiter fails closed with a connection error", func(t *testing.T) {
		store := newFakeStore()
		records := newMemoryRecordStore()
		records.readErr = errors.New("disk gone")
		gate := NewGate(store, NewSubmissionLimiter(records, WithDegradeOnStorageError(false)))

		res := gate.Submit(context.Background(), "hiker@eiger.app", "")

		assert.Equal(t, Result{Success: false, Error: MsgUnexpectedFailure, Kind: UnexpectedFailure}, res)
		assert.Empty(t, store.entries)
	})

	t.Run("strict limiter fails closed when the record cannot be written", func(t *testing.T) {
		store := newFakeStore()
		records := newMemoryRecordStore()
		gate := NewGate(store, NewSubmissionLimiter(records, WithDegradeOnStorageError(false)))
		ctx := context.Background()

		require.True(t, gate.Submit(ctx, "first@eiger.app", "").Success)
		records.writeErr = errors.New("disk full")

		// Check writes the pruned record back, so the failure surfaces before persistence.
		res := gate.Submit(ctx, "second@eiger.app", "")
		assert.Equal(t, UnexpectedFailure, res.Kind)
		assert.NotContains(t, store.entries, "second@eiger.app")
	})
}

func TestGate_NilLimiterDisablesRateLimiting(t *testing.T) {
	store := newFakeStore()
	gate := NewGate(store, nil)
	ctx := context.Background()

	for i := 0; i < MaxSubmissions+2; i++ {
		assert.True(t, gate.Submit(ctx, fmt.Sprintf("h%d@eiger.app", i), "").Success)
	}
}

func TestGate_RetryHintFollowsLimiterClock(t *testing.T) {
	clock := newTestClock()
	clock.Advance(-72 * time.Hour)
	limiter := NewSubmissionLimiter(newMemoryRecordStore(), WithClock(clock.Now))
	gate := NewGate(newFakeStore(), limiter)
	ctx := context.Background()

	for i := 0; i < MaxSubmissions; i++ {
		require.True(t, gate.Submit(ctx, fmt.Sprintf("h%d@eiger.app", i), "").Success)
	}

	res := gate.Submit(ctx, "late@eiger.app", "")

	assert.Equal(t, RateLimited, res.Kind)
	assert.Equal(t, "Too many attempts. Please try again in 60 minutes.", res.Error)
	assert.Equal(t, Window, res.RetryAfter)
}

func TestRateLimitMessage(t *testing.T) {
	assert.Equal(t, "Too many attempts. Please try again in 60 minutes.", rateLimitMessage(time.Hour))
	assert.Equal(t, "Too many attempts. Please try again in 2 minutes.", rateLimitMessage(61*time.Second))
	assert.Equal(t, "Too many attempts. Please try again in 1 minute.", rateLimitMessage(10*time.Second))
	assert.Equal(t, "Too many attempts. Please try again in 1 minute.", rateLimitMessage(0))
}
