package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/netevents/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PolicyRepository interface {
	List(ctx context.Context) ([]domain.NamespacePolicy, error)
	Get(ctx context.Context, name string) (*domain.NamespacePolicy, error)
	Upsert(ctx context.Context, p *domain.NamespacePolicy) error
	Delete(ctx context.Context, name string) error
}

type GormPolicyRepo struct {
	db *gorm.DB
}

func NewGormPolicyRepo(db *gorm.DB) *GormPolicyRepo {
	return &GormPolicyRepo{db: db}
}

func (r *GormPolicyRepo) List(ctx context.Context) ([]domain.NamespacePolicy, error) {
	var models []NamespacePolicyModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	policies := make([]domain.NamespacePolicy, 0, len(models))
	for i := range models {
		policies = append(policies, *policyModelToDomain(&models[i]))
	}
	return policies, nil
}

func (r *GormPolicyRepo) Get(ctx context.Context, name string) (*domain.NamespacePolicy, error) {
	var model NamespacePolicyModel
	err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return policyModelToDomain(&model), nil
}

// Upsert inserts the policy or overwrites every mutable column of an
// existing row with the same name.
func (r *GormPolicyRepo) Upsert(ctx context.Context, p *domain.NamespacePolicy) error {
	if p == nil {
		return domain.ErrValidation
	}
	if err := p.Validate(); err != nil {
		return err
	}
	model := policyModelFromDomain(p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"channel", "strategy", "max_calls", "window_ms",
				"burst_size", "refill_rate", "relay_events", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	*p = *policyModelToDomain(model)
	return nil
}

func (r *GormPolicyRepo) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&NamespacePolicyModel{}, "name = ?", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
