package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"gorm.io/gorm"
)

// paymentRequestRepository implements the PaymentRequestRepository interface
type paymentRequestRepository struct {
	db *gorm.DB
}

// NewPaymentRequestRepository creates a new payment request repository instance
func NewPaymentRequestRepository(db *gorm.DB) PaymentRequestRepository {
	return &paymentRequestRepository{db: db}
}

// Create inserts a new request. A second open request for the same user and item
// violates ux_payment_requests_open and is reported as ErrDuplicate.
func (r *paymentRequestRepository) Create(ctx context.Context, request *models.PaymentRequest) error {
	err := r.db.WithContext(ctx).Create(request).Error
	if isDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// UpdateIfStatus writes fields only while the request is in one of statuses.
// ErrStaleState is returned when no row matched. A "status" field also moves
// open_slot so the open-request index stays consistent.
func (r *paymentRequestRepository) UpdateIfStatus(ctx context.Context, id uint, statuses []string, fields map[string]interface{}) error {
	if status, ok := fields["status"].(string); ok {
		fields["open_slot"] = models.OpenSlotFor(status)
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).
		Session(&gorm.Session{SkipHooks: true}).
		Model(&models.PaymentRequest{}).
		Where("id = ? AND status IN ?", id, statuses).
		Updates(fields)
	if isDuplicateKeyError(res.Error) {
		return fmt.Errorf("%w: %v", ErrDuplicate, res.Error)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the values did not change.
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Where("id = ? AND status IN ?", id, statuses).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: payment request %d", ErrStaleState, id)
	}
	return nil
}

// GetByID retrieves a payment request by its ID
func (r *paymentRequestRepository) GetByID(ctx context.Context, id uint) (*models.PaymentRequest, error) {
	var request models.PaymentRequest
	err := r.db.WithContext(ctx).First(&request, id).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// GetByUserID retrieves all requests of a user, newest first
func (r *paymentRequestRepository) GetByUserID(ctx context.Context, userID uint) ([]models.PaymentRequest, error) {
	var requests []models.PaymentRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&requests).Error
	return requests, err
}

// GetRecentByUserID retrieves up to limit prior requests of a user, excluding excludeID
func (r *paymentRequestRepository) GetRecentByUserID(ctx context.Context, userID uint, excludeID uint, limit int) ([]models.PaymentRequest, error) {
	var requests []models.PaymentRequest
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND id <> ?", userID, excludeID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&requests).Error
	return requests, err
}

// HasOpenRequest checks whether the user has a non-terminal request for the item
func (r *paymentRequestRepository) HasOpenRequest(ctx context.Context, userID uint, itemType string, itemID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRequest{}).
		Where("user_id = ? AND item_type = ? AND item_id = ? AND status IN ?",
			userID, itemType, itemID, models.NonTerminalPaymentStatuses()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
