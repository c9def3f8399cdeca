package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docrag-go/internal/logging"
)

// Defaults for the per-client token bucket on protected routes.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

// limiterIdleTTL is how long an idle client keeps its bucket.
const limiterIdleTTL = 5 * time.Minute

// bucket is one client's token bucket.
type bucket struct {
	// limiter is the client's token bucket.
	limiter *rate.Limiter
	// lastSeen is the time of the client's most recent request.
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket on protected routes.
// Clients are keyed by remote IP; X-Forwarded-For is ignored because the
// server binds to localhost by default and the header is client controlled.
type rateLimiter struct {
	// rps is the sustained request rate per client.
	rps rate.Limit
	// burst is the bucket size per client.
	burst int
	// log receives rejection events when the request carries no logger.
	log *slog.Logger
	// onReject, when set, is called for every rejected request.
	onReject func(r *http.Request)
	// now is the clock, replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// newRateLimiter constructs a rateLimiter and starts the eviction loop. The
// returned stop function ends the loop and is safe to call more than once.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.evict()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// reserve takes a token for key. It returns zero when the request may
// proceed, or how long the client should wait otherwise.
func (rl *rateLimiter) reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		// a rejected request must not consume a future token
		res.CancelAt(now)
	}
	return delay
}

// evict drops buckets idle for longer than limiterIdleTTL.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// size returns the number of tracked clients.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware rejects over-limit requests with 429, a Retry-After header in
// whole seconds and a JSON error body.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		wait := rl.reserve(key)
		if wait <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", key),
			slog.Duration("retry_after", wait),
		)
		if rl.onReject != nil {
			rl.onReject(r)
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
			Error: "rate limit exceeded",
			Kind:  "rate_limited",
		})
	})
}

// clientIP returns the host part of r.RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
