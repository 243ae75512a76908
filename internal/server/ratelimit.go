package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/logging"
)

const (
	defaultPublishRate  = 30 // per minute
	defaultPublishBurst = 10
	clientIdleExpiry    = 10 * time.Minute
	sweepEvery          = 256
)

// RateLimitConfig bounds how many publish tasks one client may start.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
	Disabled  bool
}

// RateLimiter is a per-client token bucket. Idle clients are swept lazily
// from Allow, so the limiter owns no goroutine.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*allowance
	rate    float64 // tokens per second
	burst   float64
	limit   int
	off     bool
	calls   int
	now     func() time.Time
	logger  logging.Logger
}

type allowance struct {
	tokens float64
	seen   time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// NewRateLimiter creates a limiter. Zero values fall back to the publish
// defaults.
func NewRateLimiter(config RateLimitConfig, logger logging.Logger) *RateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = defaultPublishRate
	}
	if config.Burst <= 0 {
		config.Burst = defaultPublishBurst
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RateLimiter{
		clients: make(map[string]*allowance),
		rate:    float64(config.PerMinute) / 60,
		burst:   float64(config.Burst),
		limit:   config.PerMinute,
		off:     config.Disabled,
		now:     time.Now,
		logger:  logger,
	}
}

// Allow spends one token for client.
func (rl *RateLimiter) Allow(client string) Decision {
	if rl.off {
		return Decision{Allowed: true, Remaining: int(rl.burst)}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.calls++
	if rl.calls%sweepEvery == 0 {
		rl.sweep(now)
	}

	a, ok := rl.clients[client]
	if !ok {
		a = &allowance{tokens: rl.burst, seen: now}
		rl.clients[client] = a
	}
	a.tokens = math.Min(rl.burst, a.tokens+now.Sub(a.seen).Seconds()*rl.rate)
	a.seen = now

	if a.tokens >= 1 {
		a.tokens--
		return Decision{Allowed: true, Remaining: int(a.tokens)}
	}

	wait := time.Duration((1 - a.tokens) / rl.rate * float64(time.Second))
	return Decision{RetryAfter: wait.Round(time.Second)}
}

func (rl *RateLimiter) sweep(now time.Time) {
	for client, a := range rl.clients {
		if now.Sub(a.seen) > clientIdleExpiry {
			delete(rl.clients, client)
		}
	}
}

// Clients reports how many clients are being tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware answers 429 once a client has used up its allowance.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := getClientIP(r)
			d := limiter.Allow(client)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				retry := int(math.Max(1, d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				limiter.logger.Warn(r.Context(),
					errors.NewValidationError("RATE_LIMIT_EXCEEDED", "rate limit exceeded"),
					"Publish rate limit exceeded", "client_ip", client)
				writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many publish requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
