// Package ratelimit implements per-key admission control for a namespace.
package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
	"go.uber.org/zap"
)

// Limiter tracks admission state per key. It is safe for concurrent use;
// check-then-update for a key is atomic.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	algo   algorithm
	keys   map[string]*keyState
	now    func() time.Time
	logger *zap.Logger

	totalChecks  int64
	totalBlocked int64
}

type keyState struct {
	checks   int64
	blocked  int64
	attempts int
}

// KeyStats is the per-key part of Stats.
type KeyStats struct {
	Checks    int64 `json:"checks"`
	Blocked   int64 `json:"blocked"`
	Attempts  int   `json:"attempts"`
	Remaining int   `json:"remaining"`
}

// Stats aggregates checks since creation or the last ResetAll.
type Stats struct {
	TotalChecks  int64               `json:"totalChecks"`
	TotalBlocked int64               `json:"totalBlocked"`
	BlockRate    float64             `json:"blockRate"`
	PerKey       map[string]KeyStats `json:"perKey"`
}

func New(cfg Config, logger *zap.Logger) (*Limiter, error) {
	return newLimiter(cfg, time.Now, logger)
}

func newLimiter(cfg Config, nowFn func() time.Time, logger *zap.Logger) (*Limiter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		cfg:    cfg,
		algo:   newAlgorithm(cfg.Strategy),
		keys:   make(map[string]*keyState),
		now:    nowFn,
		logger: logger,
	}, nil
}

// Check consumes one unit for key. A denied check returns the time until
// the key can be admitted again.
func (l *Limiter) Check(key string) (bool, time.Duration) {
	l.mu.Lock()
	allowed, retryAfter := l.algo.check(key, l.now(), l.params())

	st := l.state(key)
	st.checks++
	l.totalChecks++

	var onExceeded ExceededFunc
	attempts := 0
	if allowed {
		st.attempts = 0
	} else {
		st.blocked++
		st.attempts++
		l.totalBlocked++
		onExceeded = l.cfg.OnExceeded
		attempts = st.attempts
	}
	l.mu.Unlock()

	if onExceeded != nil {
		l.notifyExceeded(onExceeded, key, attempts)
	}
	return allowed, retryAfter
}

func (l *Limiter) notifyExceeded(fn ExceededFunc, key string, attempts int) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("rate limit exceeded callback panicked",
				zap.String("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	fn(key, attempts)
}

// GetRemaining reports how many calls key could make right now.
func (l *Limiter) GetRemaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.algo.remaining(key, l.now(), l.params())
}

// AddTokens credits amount tokens to key, capped at the bucket capacity.
// Only the token strategy supports it.
func (l *Limiter) AddTokens(key string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: token amount must be positive (got %d)", domain.ErrValidation, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.algo.(*tokenBucket)
	if !ok {
		return fmt.Errorf("%w: AddTokens requires the token strategy, limiter uses %s", domain.ErrValidation, l.cfg.Strategy)
	}
	bucket.add(key, amount, l.now(), l.params())
	return nil
}

// SetMaxCalls changes the limit for subsequent checks. Recorded history is
// kept as is.
func (l *Limiter) SetMaxCalls(maxCalls int) error {
	if maxCalls < 1 {
		return fmt.Errorf("%w: maxCalls must be at least 1 (got %d)", domain.ErrInvalidConfig, maxCalls)
	}

	l.mu.Lock()
	l.cfg.MaxCalls = maxCalls
	l.mu.Unlock()
	return nil
}

func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.algo.reset(key)
	delete(l.keys, key)
}

func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.algo.resetAll()
	l.keys = make(map[string]*keyState)
	l.totalChecks = 0
	l.totalBlocked = 0
}

func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	p := l.params()
	stats := Stats{
		TotalChecks:  l.totalChecks,
		TotalBlocked: l.totalBlocked,
		PerKey:       make(map[string]KeyStats, len(l.keys)),
	}
	if l.totalChecks > 0 {
		stats.BlockRate = float64(l.totalBlocked) / float64(l.totalChecks)
	}
	for key, st := range l.keys {
		stats.PerKey[key] = KeyStats{
			Checks:    st.checks,
			Blocked:   st.blocked,
			Attempts:  st.attempts,
			Remaining: l.algo.remaining(key, now, p),
		}
	}
	return stats
}

// Keys returns the tracked keys in sorted order.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.keys))
	for key := range l.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Config returns a copy of the active configuration.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Limiter) state(key string) *keyState {
	st, ok := l.keys[key]
	if !ok {
		st = &keyState{}
		l.keys[key] = st
	}
	return st
}

func (l *Limiter) params() params {
	p := params{
		maxCalls: l.cfg.MaxCalls,
		window:   l.cfg.TimeWindow,
		capacity: float64(l.cfg.MaxCalls),
	}
	if l.cfg.BurstSize > 0 {
		p.capacity = float64(l.cfg.BurstSize)
	}

	p.rate = float64(l.cfg.MaxCalls) / l.cfg.TimeWindow.Seconds()
	if l.cfg.Strategy == StrategyToken && l.cfg.RefillRate > 0 {
		p.rate = l.cfg.RefillRate
	}
	return p
}
