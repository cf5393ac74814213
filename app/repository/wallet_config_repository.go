package repository

import (
	"context"

	"github.com/ManuelReschke/PayProof/app/models"
	"gorm.io/gorm"
)

type walletConfigRepository struct {
	db *gorm.DB
}

// NewWalletConfigRepository creates a new wallet configuration repository instance
func NewWalletConfigRepository(db *gorm.DB) WalletConfigRepository {
	return &walletConfigRepository{db: db}
}

// GetActive retrieves all active wallets in display order
func (r *walletConfigRepository) GetActive(ctx context.Context) ([]models.WalletConfig, error) {
	var wallets []models.WalletConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC, id ASC").
		Find(&wallets).Error
	return wallets, err
}

// GetActiveByID retrieves a single active wallet
func (r *walletConfigRepository) GetActiveByID(ctx context.Context, id uint) (*models.WalletConfig, error) {
	var wallet models.WalletConfig
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
