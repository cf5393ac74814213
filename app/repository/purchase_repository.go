package repository

import (
	"context"

	"github.com/ManuelReschke/PayProof/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

// GrantPurchase adds the item to the user's library. Granting an item the user
// already owns is a no-op, so retries are safe.
func (r *purchaseRepository) GrantPurchase(ctx context.Context, userID uint, itemType string, itemID uint, paymentRequestID uint) error {
	purchase := &models.UserPurchase{
		UserID:           userID,
		ItemType:         itemType,
		ItemID:           itemID,
		PaymentRequestID: paymentRequestID,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "item_type"},
			{Name: "item_id"},
		},
		DoNothing: true,
	}).Create(purchase).Error
}

// HasPurchase checks whether the item is already in the user's library
func (r *purchaseRepository) HasPurchase(ctx context.Context, userID uint, itemType string, itemID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserPurchase{}).
		Where("user_id = ? AND item_type = ? AND item_id = ?", userID, itemType, itemID).
		Count(&count).Error
	return count > 0, err
}
