// Package throttle puts a per-client token bucket in front of HTTP handlers.
//
// It sits outside the waitlist gate: the gate bounds submissions per client
// installation over an hour, while the throttle bounds raw request bursts per
// remote address so the persistence backend is not hammered.
package throttle

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleAfter = 15 * time.Minute

// Limiter hands out one bucket per client. Buckets nobody touched for the
// idle period are swept on the next call that finds the sweep overdue, so no
// background goroutine is needed.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens   *rate.Limiter
	lastUsed time.Time
}

type Option func(*Limiter)

// WithIdleAfter sets how long an untouched bucket is kept.
func WithIdleAfter(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idleAfter = d
		}
	}
}

// WithClock replaces time.Now. Token refill follows the same clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New allows perSecond requests per client with bursts of up to burst.
func New(perSecond float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idleAfter: defaultIdleAfter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Allow takes a token from client's bucket. A refusal carries the wait until
// the next token.
func (l *Limiter) Allow(client string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[client] = b
	}
	b.lastUsed = now

	r := b.tokens.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Len reports how many buckets are held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleAfter {
		return
	}
	l.lastSweep = now
	for client, b := range l.buckets {
		if now.Sub(b.lastUsed) >= l.idleAfter {
			delete(l.buckets, client)
		}
	}
}

// RemoteHost returns the host part of r.RemoteAddr, or the raw value when it
// has no port.
func RemoteHost(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// Middleware answers 429 once the caller's bucket is empty. Retry-After is
// the bucket's own wait, rounded up to whole seconds.
func Middleware(l *Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.Allow(RemoteHost(r))
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
