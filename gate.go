package waitlist_gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eigerteam/waitlist_gate/internal/logger"
)

// Gate runs the ordered checks in front of a waitlist signup:
// honeypot, rate limit, format, disposable domain, duplicate, insert.
type Gate struct {
	store       Store
	limiter     *SubmissionLimiter
	disposable  *DisposableFilter
	silentBots  bool
	callTimeout time.Duration
	now         func() time.Time
}

type GateOption func(*Gate)

// WithSilentlyAcceptBots decides how honeypot hits are answered. When true
// (the default) bots get a success indistinguishable from a real signup;
// when false they get an explicit rejection.
func WithSilentlyAcceptBots(silent bool) GateOption {
	return func(g *Gate) { g.silentBots = silent }
}

// WithCallTimeout bounds each persistence call. Zero disables the bound.
func WithCallTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.callTimeout = d }
}

// WithDisposableFilter replaces the default disposable-domain blocklist.
func WithDisposableFilter(f *DisposableFilter) GateOption {
	return func(g *Gate) {
		if f != nil {
			g.disposable = f
		}
	}
}

// WithGateClock replaces time.Now for entry timestamps. Retry hints follow
// the limiter's own clock.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate over store. A nil limiter disables rate limiting.
func NewGate(store Store, limiter *SubmissionLimiter, opts ...GateOption) *Gate {
	g := &Gate{
		store:       store,
		limiter:     limiter,
		disposable:  NewDisposableFilter(),
		silentBots:  true,
		callTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit runs a submission against the default rate-limit record.
func (g *Gate) Submit(ctx context.Context, email, honeypot string) Result {
	return g.SubmitFrom(ctx, "", email, honeypot)
}

// SubmitFrom runs a submission, counting it against client's rate-limit
// record. It never panics and never returns a raw error: every failure is
// folded into the Result.
func (g *Gate) SubmitFrom(ctx context.Context, client, email, honeypot string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("waitlist submission panicked", "client", client, "panic", r)
			res = failed(UnexpectedFailure, MsgUnexpectedFailure)
		}
	}()

	if IsBot(honeypot) {
		logger.Warn("honeypot field filled", "client", client, "silent", g.silentBots)
		if g.silentBots {
			return succeeded()
		}
		return failed(BotRejected, MsgBotRejected)
	}

	if g.limiter != nil {
		status, err := g.limiter.Check(ctx, client)
		if err != nil {
			logger.Error("rate limit check failed", "client", client, "error", err)
			return failed(UnexpectedFailure, MsgUnexpectedFailure)
		}
		if !status.Allowed() {
			logger.Info("waitlist submission rate limited", "client", client, "reset_at", status.ResetAt.UTC().Format(time.RFC3339))
			res = failed(RateLimited, rateLimitMessage(status.RetryAfter()))
			res.RetryAfter = status.RetryAfter()
			return res
		}
	}

	if v := ValidateEmail(email); !v.Valid {
		return failed(v.Kind, v.Reason)
	}
	normalized := Normalize(email)

	if v := g.disposable.Check(normalized); !v.Valid {
		return failed(v.Kind, v.Reason)
	}

	exists, err := g.exists(ctx, normalized)
	if err != nil {
		return g.persistenceFailure("duplicate check", normalized, err)
	}
	if exists {
		return failed(Duplicate, MsgDuplicate)
	}

	err = g.insert(ctx, Entry{Email: normalized, CreatedAt: g.now().UTC()})
	switch {
	case errors.Is(err, ErrDuplicate):
		return failed(Duplicate, MsgDuplicate)
	case err != nil:
		return g.persistenceFailure("insert", normalized, err)
	}

	if g.limiter != nil {
		if err := g.limiter.Record(ctx, client); err != nil {
			// the signup is stored; only the counter is behind
			logger.Error("recording submission failed", "client", client, "error", err)
		}
	}

	logger.Info("waitlist signup stored", "email", normalized, "client", client)
	return succeeded()
}

func (g *Gate) exists(ctx context.Context, email string) (bool, error) {
	ctx, cancel := g.callContext(ctx)
	defer cancel()
	return g.store.Exists(ctx, email)
}

func (g *Gate) insert(ctx context.Context, entry Entry) error {
	ctx, cancel := g.callContext(ctx)
	defer cancel()
	return g.store.Insert(ctx, entry)
}

func (g *Gate) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.callTimeout)
}

// persistenceFailure maps any store error, timeouts included, to the same
// generic answer. Only a panic or a strict limiter yields UnexpectedFailure.
func (g *Gate) persistenceFailure(op, email string, err error) Result {
	logger.Error("waitlist store call failed", "op", op, "email", email, "error", err)
	return failed(PersistenceFailure, MsgPersistenceFailure)
}

func rateLimitMessage(wait time.Duration) string {
	minutes := int(math.Ceil(wait.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("%s Please try again in %d %s.", msgRateLimitedPrefix, minutes, unit)
}
