// ratelimit.go - Per-client token buckets.

package service

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// ClientRateLimiter keeps one token bucket per client key.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewClientRateLimiter(requestsPerSecond float64, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Allow consumes a token for client if one is available.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[client]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Tokens returns the tokens currently available to client.
func (l *ClientRateLimiter) Tokens(client string) float64 {
	l.mu.Lock()
	lim, ok := l.limiters[client]
	l.mu.Unlock()
	if !ok {
		return float64(l.burst)
	}
	return lim.Tokens()
}

// Reset forgets every client.
func (l *ClientRateLimiter) Reset() {
	l.mu.Lock()
	l.limiters = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware answers 429 when the client is over its limit. onDeny, if set, runs for
// every refused request.
func (l *ClientRateLimiter) Middleware(onDeny func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				if onDeny != nil {
					onDeny(r)
				}
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "RateLimited", Kind: "rate_limit", Message: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
