package domain

import (
	"fmt"
	"strings"
	"time"
)

// NamespacePolicy is the persisted definition of a namespace the service
// creates at startup, including its optional rate limit.
type NamespacePolicy struct {
	Name        string
	Channel     Channel
	Strategy    string
	MaxCalls    int
	WindowMs    int64
	BurstSize   int
	RefillRate  float64
	RelayEvents []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RateLimited reports whether the policy carries a rate limit at all.
func (p NamespacePolicy) RateLimited() bool {
	return p.MaxCalls > 0
}

func (p NamespacePolicy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: namespace name is required", ErrValidation)
	}
	if !p.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q for namespace %q", ErrValidation, p.Channel, p.Name)
	}
	if p.MaxCalls < 0 || p.WindowMs < 0 || p.BurstSize < 0 || p.RefillRate < 0 {
		return fmt.Errorf("%w: rate limit values for namespace %q must not be negative", ErrValidation, p.Name)
	}
	if p.MaxCalls > 0 && p.WindowMs == 0 {
		return fmt.Errorf("%w: namespace %q sets maxCalls without a window", ErrValidation, p.Name)
	}
	for _, event := range p.RelayEvents {
		if strings.TrimSpace(event) == "" {
			return fmt.Errorf("%w: namespace %q has an empty relay event", ErrValidation, p.Name)
		}
	}
	return nil
}
