package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/netevents/internal/dispatcher"
	"github.com/kursadbilgin/netevents/internal/domain"
	"github.com/kursadbilgin/netevents/internal/ratelimit"
	"github.com/kursadbilgin/netevents/internal/repository"
	"go.uber.org/zap"
)

// NamespaceRegistry is the part of dispatcher.Registry the policy service
// drives.
type NamespaceRegistry interface {
	Namespace(name string, channel domain.Channel) (*dispatcher.Namespace, error)
	Lookup(name string) (*dispatcher.Namespace, error)
	Names() []string
}

// NamespaceInfo describes one live namespace.
type NamespaceInfo struct {
	Name      string
	Channel   domain.Channel
	Events    []string
	RateLimit *ratelimit.Config
}

// PolicyService keeps the live namespaces and their rate limits in line with
// the stored namespace policies.
type PolicyService struct {
	registry NamespaceRegistry
	repo     repository.PolicyRepository
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	relayed map[string]map[string]struct{}
}

func NewPolicyService(registry NamespaceRegistry, repo repository.PolicyRepository, logger *zap.Logger) (*PolicyService, error) {
	if registry == nil {
		return nil, errors.New("namespace registry is required")
	}
	if repo == nil {
		return nil, errors.New("policy repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{
		registry: registry,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		relayed:  make(map[string]map[string]struct{}),
	}, nil
}

// Apply creates a namespace for every stored policy. A policy that fails to
// apply is logged and skipped so one bad row cannot keep the endpoint down.
func (s *PolicyService) Apply(ctx context.Context) (int, error) {
	policies, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list namespace policies: %w", err)
	}

	applied := 0
	for _, p := range policies {
		if err := s.apply(p); err != nil {
			s.logger.Error("failed to apply namespace policy",
				zap.String("namespace", p.Name),
				zap.Error(err),
			)
			continue
		}
		applied++
	}
	s.logger.Info("namespace policies applied",
		zap.Int("applied", applied),
		zap.Int("stored", len(policies)),
	)
	return applied, nil
}

// Define validates p, makes it live and stores it.
func (s *PolicyService) Define(ctx context.Context, p domain.NamespacePolicy) (*domain.NamespacePolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := ratelimit.FromPolicy(p); err != nil {
		return nil, err
	}
	if ns, err := s.registry.Lookup(p.Name); err == nil && ns.Channel() != p.Channel {
		return nil, fmt.Errorf("%w: namespace %q already uses channel %s", domain.ErrValidation, p.Name, ns.Channel())
	}
	if err := s.apply(p); err != nil {
		return nil, err
	}
	if stored, err := s.repo.Get(ctx, p.Name); err == nil {
		p.CreatedAt = stored.CreatedAt
	}
	return s.save(ctx, p)
}

func (s *PolicyService) Namespaces() []NamespaceInfo {
	names := s.registry.Names()
	out := make([]NamespaceInfo, 0, len(names))
	for _, name := range names {
		ns, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		events := ns.Events()
		sort.Strings(events)
		info := NamespaceInfo{Name: ns.Name(), Channel: ns.Channel(), Events: events}
		if limiter := ns.RateLimiter(); limiter != nil {
			cfg := limiter.Config()
			cfg.OnExceeded = nil
			info.RateLimit = &cfg
		}
		out = append(out, info)
	}
	return out
}

func (s *PolicyService) Stats(name string) (ratelimit.Stats, error) {
	limiter, err := s.limiter(name)
	if err != nil {
		return ratelimit.Stats{}, err
	}
	return limiter.GetStats(), nil
}

func (s *PolicyService) Remaining(name, key string) (int, error) {
	limiter, err := s.limiter(name)
	if err != nil {
		return 0, err
	}
	return limiter.GetRemaining(key), nil
}

// SetRateLimit replaces the limiter of a live namespace and persists the new
// settings. The previous limiter stays when cfg is invalid.
func (s *PolicyService) SetRateLimit(ctx context.Context, name string, cfg ratelimit.Config) (*domain.NamespacePolicy, error) {
	ns, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	cfg.OnExceeded = s.exceeded(ns.Name())
	if err := ns.WithRateLimit(cfg); err != nil {
		return nil, err
	}
	return s.update(ctx, ns, func(p *domain.NamespacePolicy) {
		ratelimit.ToPolicy(p, ns.RateLimiter().Config())
	})
}

func (s *PolicyService) RemoveRateLimit(ctx context.Context, name string) (*domain.NamespacePolicy, error) {
	ns, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	ns.RemoveRateLimit()
	return s.update(ctx, ns, func(p *domain.NamespacePolicy) {
		p.Strategy = ""
		p.MaxCalls = 0
		p.WindowMs = 0
		p.BurstSize = 0
		p.RefillRate = 0
	})
}

func (s *PolicyService) SetMaxCalls(ctx context.Context, name string, maxCalls int) (*domain.NamespacePolicy, error) {
	limiter, err := s.limiter(name)
	if err != nil {
		return nil, err
	}
	if err := limiter.SetMaxCalls(maxCalls); err != nil {
		return nil, err
	}
	ns, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, ns, func(p *domain.NamespacePolicy) {
		ratelimit.ToPolicy(p, limiter.Config())
	})
}

// Reset clears key, or every key when key is empty.
func (s *PolicyService) Reset(name, key string) error {
	limiter, err := s.limiter(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		limiter.ResetAll()
		return nil
	}
	limiter.Reset(key)
	return nil
}

func (s *PolicyService) AddTokens(name, key string, amount int) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", domain.ErrValidation)
	}
	limiter, err := s.limiter(name)
	if err != nil {
		return err
	}
	return limiter.AddTokens(key, amount)
}

func (s *PolicyService) apply(p domain.NamespacePolicy) error {
	cfg, limited, err := ratelimit.FromPolicy(p)
	if err != nil {
		return err
	}
	ns, err := s.registry.Namespace(p.Name, p.Channel)
	if err != nil {
		return err
	}
	if limited {
		cfg.OnExceeded = s.exceeded(ns.Name())
		if err := ns.WithRateLimit(cfg); err != nil {
			return err
		}
	} else {
		ns.RemoveRateLimit()
	}
	for _, event := range p.RelayEvents {
		if err := s.relay(ns, strings.TrimSpace(event)); err != nil {
			return err
		}
	}
	return nil
}

// relay makes the namespace re-broadcast event to every other endpoint.
// Each event is registered at most once per namespace.
func (s *PolicyService) relay(ns *dispatcher.Namespace, event string) error {
	s.mu.Lock()
	events, ok := s.relayed[ns.Name()]
	if !ok {
		events = make(map[string]struct{})
		s.relayed[ns.Name()] = events
	}
	if _, done := events[event]; done {
		s.mu.Unlock()
		return nil
	}
	events[event] = struct{}{}
	s.mu.Unlock()

	return ns.On(event, dispatcher.HandlerFunc(func(ctx context.Context, sender domain.Endpoint, args []any) ([]any, error) {
		return nil, ns.Fire(domain.ToAllExcept(sender), event, args...)
	}))
}

func (s *PolicyService) exceeded(namespace string) ratelimit.ExceededFunc {
	return func(key string, attempts int) {
		s.logger.Debug("rate limit exceeded",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Int("attempts", attempts),
		)
	}
}

func (s *PolicyService) limiter(name string) (*ratelimit.Limiter, error) {
	ns, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	limiter := ns.RateLimiter()
	if limiter == nil {
		return nil, fmt.Errorf("%w: namespace %q has no rate limit", domain.ErrNotFound, name)
	}
	return limiter, nil
}

// update loads the stored policy of ns, or starts a new one, applies mutate
// and saves the result.
func (s *PolicyService) update(ctx context.Context, ns *dispatcher.Namespace, mutate func(*domain.NamespacePolicy)) (*domain.NamespacePolicy, error) {
	stored, err := s.repo.Get(ctx, ns.Name())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		stored = &domain.NamespacePolicy{Name: ns.Name(), Channel: ns.Channel()}
	case err != nil:
		return nil, fmt.Errorf("load namespace policy: %w", err)
	}
	mutate(stored)
	return s.save(ctx, *stored)
}

func (s *PolicyService) save(ctx context.Context, p domain.NamespacePolicy) (*domain.NamespacePolicy, error) {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.repo.Upsert(ctx, &p); err != nil {
		s.logger.Error("failed to persist namespace policy",
			zap.String("namespace", p.Name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist namespace policy: %w", err)
	}
	return &p, nil
}
