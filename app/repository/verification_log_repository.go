package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuelReschke/PayProof/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type verificationLogRepository struct {
	db *gorm.DB
}

// NewVerificationLogRepository creates a new verification log repository instance
func NewVerificationLogRepository(db *gorm.DB) VerificationLogRepository {
	return &verificationLogRepository{db: db}
}

// AddEntry appends an audit entry for a payment request
func (r *verificationLogRepository) AddEntry(ctx context.Context, paymentRequestID uint, step, outcome string, details map[string]interface{}, entryErr error) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal verification details: %w", err)
	}

	entry := &models.VerificationLog{
		PaymentRequestID: paymentRequestID,
		Step:             step,
		Outcome:          outcome,
		Details:          datatypes.JSON(payload),
	}
	if entryErr != nil {
		entry.Error = entryErr.Error()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByPaymentRequest returns the entries of a request in insertion order
func (r *verificationLogRepository) ListByPaymentRequest(ctx context.Context, paymentRequestID uint) ([]models.VerificationLog, error) {
	var entries []models.VerificationLog
	err := r.db.WithContext(ctx).
		Where("payment_request_id = ?", paymentRequestID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
