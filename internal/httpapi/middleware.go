package httpapi

import (
	"container/list"
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type ctxKey int

const bearerKey ctxKey = iota

// bearerToken returns the authenticated bearer token for the request,
// or "" when auth is disabled.
func bearerToken(r *http.Request) string {
	token, _ := r.Context().Value(bearerKey).(string)
	return token
}

// auth checks the Authorization header against the configured API
// keys. No configured keys disables auth entirely. Comparison is
// constant-time per key so timing never leaks a prefix match.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys := s.cfg.Server.APIKeys
		if len(keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "authentication_error", "auth_required")
			return
		}
		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
				ctx := context.WithValue(r.Context(), bearerKey, token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		s.log.Warn("request rejected: bad api key", "path", r.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid API key", "authentication_error", "auth_rejected")
	})
}

// ratelimit applies a per-caller token bucket. Disabled when the
// configured rate is zero.
func (s *Server) ratelimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := bearerToken(r)
		if key == "" {
			// auth disabled: fall back to the client address
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}
		}
		if !s.limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry shortly", "rate_limit_error", "rate_limit_exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxLimiterKeys caps the per-caller bucket map before LRU eviction.
const maxLimiterKeys = 4096

type bucket struct {
	key     string
	limiter *rate.Limiter
	elem    *list.Element
}

// keyLimiter keeps one token bucket per caller key, bounded by LRU
// eviction so unauthenticated scans cannot grow the map forever.
type keyLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	lru     *list.List // front = most recently used
	rps     rate.Limit
	burst   int
	maxKeys int
}

// newKeyLimiter returns nil when rps is zero or negative, which
// disables limiting.
func newKeyLimiter(rps float64, burst int) *keyLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &keyLimiter{
		buckets: make(map[string]*bucket),
		lru:     list.New(),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxKeys: maxLimiterKeys,
	}
}

func (l *keyLimiter) allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{key: key, limiter: rate.NewLimiter(l.rps, l.burst)}
		b.elem = l.lru.PushFront(b)
		l.buckets[key] = b
		for len(l.buckets) > l.maxKeys {
			oldest := l.lru.Back()
			if oldest == nil {
				break
			}
			evicted := oldest.Value.(*bucket)
			l.lru.Remove(oldest)
			delete(l.buckets, evicted.key)
		}
	} else {
		l.lru.MoveToFront(b.elem)
	}
	l.mu.Unlock()
	return b.limiter.Allow()
}
