package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/skytab/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket refilled at RequestsPerWindow per Window.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// KeyExtractor picks the bucket a request is charged to. An empty key is
// not limited.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys by client IP, preferring the first X-Forwarded-For hop.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// TokenOrIPKeyExtractor keys authenticated requests by bearer token and the
// rest by IP, so one account cannot starve another behind the same NAT.
func TokenOrIPKeyExtractor(r *http.Request) string {
	if token, ok := BearerToken(r); ok {
		return "tok:" + token
	}
	return "ip:" + IPKeyExtractor(r)
}

const idleSweepInterval = 5 * time.Minute

type buckets struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	byKey     map[string]*rate.Limiter
	lastSweep time.Time
}

func (b *buckets) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) >= idleSweepInterval {
		b.lastSweep = now
		for k, l := range b.byKey {
			// A full bucket has been idle long enough to forget.
			if l.TokensAt(now) >= float64(b.burst) {
				delete(b.byKey, k)
			}
		}
	}

	l, ok := b.byKey[key]
	if !ok {
		l = rate.NewLimiter(b.limit, b.burst)
		b.byKey[key] = l
	}
	return l
}

// RateLimitMiddleware answers over-limit requests with 429 RateLimitExceeded
// plus Retry-After and RateLimit-* headers, the way a PDS does.
func RateLimitMiddleware(config RateLimitConfig, keyOf KeyExtractor) Middleware {
	b := &buckets{
		limit:     rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
		burst:     max(config.Burst, 1),
		byKey:     make(map[string]*rate.Limiter),
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			l := b.get(key, now)
			if l.AllowN(now, 1) {
				next.ServeHTTP(w, r)
				return
			}

			res := l.ReserveN(now, 1)
			delay := res.DelayFrom(now)
			res.CancelAt(now)

			retryAfter := max(int(delay.Round(time.Second).Seconds()), 1)
			h := w.Header()
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			h.Set("RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			h.Set("RateLimit-Remaining", "0")
			h.Set("RateLimit-Reset", strconv.FormatInt(now.Add(delay).Unix(), 10))

			slogx.FromContext(r.Context()).Warn("rate limit exceeded", "retry_after", retryAfter)
			WriteXRPCError(w, http.StatusTooManyRequests, "RateLimitExceeded", "Rate Limit Exceeded")
		})
	}
}
