package auth

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"vidtube-backend/internal/httpx"
	"vidtube-backend/internal/observability"
)

// LoginLimitStore counts login attempts per client IP within a window.
type LoginLimitStore interface {
	AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	store   LoginLimitStore
	maxHits int
	window  time.Duration
	logger  *observability.Logger
	now     func() time.Time

	trustProxy bool
}

func NewLoginRateLimiter(store LoginLimitStore, maxHits int, window time.Duration, logger *observability.Logger) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		store:   store,
		maxHits: maxHits,
		window:  window,
		logger:  logger,
		now:     time.Now,
	}
}

// WithTrustedProxy keys attempts on the X-Forwarded-For client address
// instead of the connection's peer address.
func (l *LoginRateLimiter) WithTrustedProxy(trust bool) *LoginRateLimiter {
	l.trustProxy = trust
	return l
}

// Middleware rejects requests over the limit with 429. A failing store lets
// the request through so a limiter outage never blocks sign-in.
func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r, l.trustProxy)

		allowed, wait, err := l.store.AllowLoginIP(r.Context(), ip, l.maxHits, l.window, l.now().UTC())
		if err != nil {
			l.logger.Error("login_rate_limit_failed", map[string]any{"ip": ip, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(w, httpx.TooManyRequests("Too many login attempts, try again later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RedisLoginLimitStore keeps one fixed-window counter per IP in Redis.
type RedisLoginLimitStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLoginLimitStore(client redis.Cmdable) *RedisLoginLimitStore {
	return &RedisLoginLimitStore{client: client, prefix: "vidtube:login:ip:"}
}

func (s *RedisLoginLimitStore) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, _ time.Time) (bool, time.Duration, error) {
	key := s.prefix + ip

	hits, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr login counter: %w", err)
	}
	if hits == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire login counter: %w", err)
		}
	}

	if hits <= int64(maxHits) {
		return true, 0, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ttl login counter: %w", err)
	}
	if ttl < 0 {
		// The key lost its expiry; restart the window rather than lock forever.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire login counter: %w", err)
		}
		ttl = window
	}

	return false, retryAfter(ttl), nil
}

// MemoryLoginLimitStore is a per-process token bucket per IP. Suitable for a
// single instance only.
type MemoryLoginLimitStore struct {
	mu        sync.Mutex
	limiters  map[string]*memoryLimiter
	maxMemory int
}

type memoryLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLoginLimitStore() *MemoryLoginLimitStore {
	return &MemoryLoginLimitStore{
		limiters:  make(map[string]*memoryLimiter),
		maxMemory: 5000,
	}
}

func (s *MemoryLoginLimitStore) AllowLoginIP(_ context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	if maxHits <= 0 || window <= 0 {
		return true, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[ip]
	if !ok {
		entry = &memoryLimiter{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(maxHits)), maxHits),
		}
		s.limiters[ip] = entry
	}
	entry.lastSeen = now

	if len(s.limiters) > s.maxMemory {
		s.prune(now.Add(-window))
	}

	if entry.limiter.AllowN(now, 1) {
		return true, 0, nil
	}

	reservation := entry.limiter.ReserveN(now, 1)
	wait := reservation.DelayFrom(now)
	reservation.CancelAt(now)

	return false, retryAfter(wait), nil
}

func (s *MemoryLoginLimitStore) prune(threshold time.Time) {
	for ip, entry := range s.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(s.limiters, ip)
		}
	}
}

func retryAfter(wait time.Duration) time.Duration {
	if wait < time.Second {
		return time.Second
	}
	return wait
}
