package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
)

// RateLimiter enforces a per-principal request rate. Unauthenticated
// requests are keyed by remote address.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per
// principal with the given burst. Idle visitors are evicted in the
// background.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	l := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
	go l.cleanup()
	return l
}

func (l *RateLimiter) cleanup() {
	for range time.Tick(time.Minute) {
		l.mu.Lock()
		for key, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// Middleware rejects requests over the limit. onError renders the failure.
func (l *RateLimiter) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if user, err := GetPrincipal(r.Context()); err == nil {
				key = user.Email
			}
			if !l.allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				onError(w, r, apperr.New(apperr.QuotaExceeded, "request rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
