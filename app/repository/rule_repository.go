package repository

import (
	"context"

	"github.com/ManuelReschke/PayProof/app/models"
	"gorm.io/gorm"
)

type autoMatchingRuleRepository struct {
	db *gorm.DB
}

// NewAutoMatchingRuleRepository creates a new rule repository instance
func NewAutoMatchingRuleRepository(db *gorm.DB) AutoMatchingRuleRepository {
	return &autoMatchingRuleRepository{db: db}
}

// GetActive retrieves active rules, highest priority first
func (r *autoMatchingRuleRepository) GetActive(ctx context.Context) ([]models.AutoMatchingRule, error) {
	var rules []models.AutoMatchingRule
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	return rules, err
}
