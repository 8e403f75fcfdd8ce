package ratelimit

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
)

// Strategy selects the admission rule applied per key.
type Strategy string

const (
	StrategyFixed   Strategy = "fixed"
	StrategySliding Strategy = "sliding"
	StrategyToken   Strategy = "token"
	StrategyLeaky   Strategy = "leaky"
)

func (s Strategy) String() string { return string(s) }

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFixed, StrategySliding, StrategyToken, StrategyLeaky:
		return true
	}
	return false
}

func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return StrategyFixed, nil
	}
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidConfig, s)
	}
	return st, nil
}

// ExceededFunc is called for every denied check with the number of denials
// since the key was last allowed or reset.
type ExceededFunc func(key string, attempts int)

// Config is the rate-limit configuration attached to one namespace.
type Config struct {
	MaxCalls   int
	TimeWindow time.Duration
	Strategy   Strategy
	// BurstSize is the bucket capacity for token and leaky strategies.
	// Zero means MaxCalls.
	BurstSize int
	// RefillRate is tokens per second for the token strategy. Zero means
	// MaxCalls per TimeWindow.
	RefillRate float64
	OnExceeded ExceededFunc
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyFixed
	}
	return c
}

// Validate rejects configurations that could never produce a working limiter.
func (c Config) Validate() error {
	if c.MaxCalls < 1 {
		return fmt.Errorf("%w: maxCalls must be at least 1 (got %d)", domain.ErrInvalidConfig, c.MaxCalls)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("%w: timeWindow must be positive (got %s)", domain.ErrInvalidConfig, c.TimeWindow)
	}
	if c.TimeWindow < time.Millisecond {
		return fmt.Errorf("%w: timeWindow must be at least 1ms (got %s)", domain.ErrInvalidConfig, c.TimeWindow)
	}
	if !c.Strategy.IsValid() {
		return fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidConfig, c.Strategy)
	}
	if c.BurstSize < 0 {
		return fmt.Errorf("%w: burstSize must not be negative (got %d)", domain.ErrInvalidConfig, c.BurstSize)
	}
	if c.BurstSize > 0 && c.Strategy != StrategyToken && c.Strategy != StrategyLeaky {
		return fmt.Errorf("%w: burstSize is only valid for token and leaky strategies", domain.ErrInvalidConfig)
	}
	if c.RefillRate < 0 || math.IsNaN(c.RefillRate) || math.IsInf(c.RefillRate, 0) {
		return fmt.Errorf("%w: refillRate must be a finite non-negative number", domain.ErrInvalidConfig)
	}
	if c.RefillRate > 0 && c.Strategy != StrategyToken {
		return fmt.Errorf("%w: refillRate is only valid for the token strategy", domain.ErrInvalidConfig)
	}
	return nil
}

const (
	PresetStrict  = "strict"
	PresetNormal  = "normal"
	PresetRelaxed = "relaxed"
	PresetBurst   = "burst"
)

var presets = map[string]Config{
	PresetStrict:  {MaxCalls: 5, TimeWindow: time.Second, Strategy: StrategySliding},
	PresetNormal:  {MaxCalls: 10, TimeWindow: time.Second, Strategy: StrategySliding},
	PresetRelaxed: {MaxCalls: 20, TimeWindow: time.Second, Strategy: StrategyFixed},
	PresetBurst:   {MaxCalls: 10, TimeWindow: time.Second, Strategy: StrategyToken, BurstSize: 50},
}

// Preset returns a copy of a named configuration.
func Preset(name string) (Config, error) {
	cfg, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q", domain.ErrInvalidConfig, name)
	}
	return cfg, nil
}

// PresetNames lists the recognized preset names.
func PresetNames() []string {
	return []string{PresetStrict, PresetNormal, PresetRelaxed, PresetBurst}
}

// FromPolicy builds the limiter configuration stored with a namespace policy.
// ok is false when the policy carries no rate limit.
func FromPolicy(p domain.NamespacePolicy) (cfg Config, ok bool, err error) {
	if !p.RateLimited() {
		return Config{}, false, nil
	}
	strategy, err := ParseStrategy(p.Strategy)
	if err != nil {
		return Config{}, false, err
	}
	cfg = Config{
		MaxCalls:   p.MaxCalls,
		TimeWindow: time.Duration(p.WindowMs) * time.Millisecond,
		Strategy:   strategy,
		BurstSize:  p.BurstSize,
		RefillRate: p.RefillRate,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

// ToPolicy copies the limiter settings of cfg onto p. A window with a
// fractional millisecond is rounded up so the stored row stays loadable.
func ToPolicy(p *domain.NamespacePolicy, cfg Config) {
	cfg = cfg.withDefaults()
	p.Strategy = cfg.Strategy.String()
	p.MaxCalls = cfg.MaxCalls
	p.WindowMs = int64((cfg.TimeWindow + time.Millisecond - 1) / time.Millisecond)
	p.BurstSize = cfg.BurstSize
	p.RefillRate = cfg.RefillRate
}
