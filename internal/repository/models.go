package repository

import (
	"strings"
	"time"

	"github.com/kursadbilgin/netevents/internal/domain"
)

// NamespacePolicyModel is the persistence model for the namespace_policies table.
type NamespacePolicyModel struct {
	Name        string         `gorm:"type:varchar(128);primaryKey"`
	Channel     domain.Channel `gorm:"type:varchar(12);not null"`
	Strategy    string         `gorm:"type:varchar(10);not null;default:''"`
	MaxCalls    int            `gorm:"not null;default:0"`
	WindowMs    int64          `gorm:"not null;default:0"`
	BurstSize   int            `gorm:"not null;default:0"`
	RefillRate  float64        `gorm:"not null;default:0"`
	RelayEvents string         `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (NamespacePolicyModel) TableName() string { return "namespace_policies" }

func policyModelFromDomain(p *domain.NamespacePolicy) *NamespacePolicyModel {
	if p == nil {
		return nil
	}
	return &NamespacePolicyModel{
		Name:        p.Name,
		Channel:     p.Channel,
		Strategy:    p.Strategy,
		MaxCalls:    p.MaxCalls,
		WindowMs:    p.WindowMs,
		BurstSize:   p.BurstSize,
		RefillRate:  p.RefillRate,
		RelayEvents: joinEvents(p.RelayEvents),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func policyModelToDomain(m *NamespacePolicyModel) *domain.NamespacePolicy {
	if m == nil {
		return nil
	}
	return &domain.NamespacePolicy{
		Name:        m.Name,
		Channel:     m.Channel,
		Strategy:    m.Strategy,
		MaxCalls:    m.MaxCalls,
		WindowMs:    m.WindowMs,
		BurstSize:   m.BurstSize,
		RefillRate:  m.RefillRate,
		RelayEvents: splitEvents(m.RelayEvents),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func joinEvents(events []string) string {
	cleaned := make([]string, 0, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitEvents(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	events := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			events = append(events, p)
		}
	}
	return events
}
