package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitStore cuenta peticiones por clave en ventanas fijas.
type RateLimitStore interface {
	// Hit suma una petición a la ventana vigente de key y devuelve el total y el tiempo
	// hasta que la ventana se reinicia.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateDecision describe el resultado de una petición contra el límite.
type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// RateLimiter aplica max peticiones por ventana sobre un RateLimitStore.
type RateLimiter struct {
	store  RateLimitStore
	max    int
	window time.Duration
}

func NewRateLimiter(store RateLimitStore, max int, window time.Duration) *RateLimiter {
	if store == nil {
		store = NewMemoryRateLimitStore()
	}
	if max <= 0 {
		max = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimiter{store: store, max: max, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	count, resetIn, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		return RateDecision{Allowed: true, Limit: l.max, Remaining: l.max}, err
	}
	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   count <= int64(l.max),
		Limit:     l.max,
		Remaining: remaining,
		ResetIn:   resetIn,
	}, nil
}

type windowCounter struct {
	count   int64
	resetAt time.Time
}

const memorySweepThreshold = 10000

type memoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*windowCounter
	now     func() time.Time
}

// NewMemoryRateLimitStore sirve para una sola instancia; con varias réplicas usar Redis.
func NewMemoryRateLimitStore() RateLimitStore {
	return NewMemoryRateLimitStoreWithClock(time.Now)
}

// NewMemoryRateLimitStoreWithClock usa now como reloj de las ventanas.
func NewMemoryRateLimitStoreWithClock(now func() time.Time) RateLimitStore {
	if now == nil {
		now = time.Now
	}
	return &memoryRateLimitStore{
		windows: make(map[string]*windowCounter),
		now:     now,
	}
}

func (s *memoryRateLimitStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.windows) > memorySweepThreshold {
		for k, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, k)
			}
		}
	}
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowCounter{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

const redisRateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisRateLimitStore struct {
	client  redisEvaler
	prefix  string
	timeout time.Duration
}

func NewRedisRateLimitStore(client *redis.Client) RateLimitStore {
	if client == nil {
		return nil
	}
	return &redisRateLimitStore{
		client:  client,
		prefix:  "auth:rl:",
		timeout: 500 * time.Millisecond,
	}
}

func (s *redisRateLimitStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, 0, errors.New("rate limit key is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 60000
	}
	vals, err := s.client.Eval(ctx, redisRateLimitScript, []string{s.prefix + key}, ms).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, errors.New("unexpected rate limit script reply")
	}
	ttl := time.Duration(vals[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return vals[0], ttl, nil
}
