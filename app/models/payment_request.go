package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment request status values
const (
	PaymentStatusCreated          = "created"
	PaymentStatusPaymentInitiated = "payment_initiated"
	PaymentStatusPaymentVerified  = "payment_verified"
	PaymentStatusCompleted        = "completed"
	PaymentStatusFailed           = "failed"
	PaymentStatusCancelled        = "cancelled"
)

// Purchasable item types
const (
	ItemTypeBook   = "book"
	ItemTypeBundle = "bundle"
)

// Verification methods recorded on a request
const (
	VerificationMethodAutoMatch     = "auto_match"
	VerificationMethodManualReview  = "manual_review"
	VerificationMethodTransactionID = "transaction_id"
	VerificationMethodReceipt       = "receipt"
)

// PaymentRequest tracks one out-of-band payment from initiation to admin decision.
type PaymentRequest struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	UserID    uint    `gorm:"not null;index;uniqueIndex:ux_payment_requests_open,priority:1" json:"user_id"`
	ItemType  string  `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_requests_open,priority:2" json:"item_type"`
	ItemID    uint    `gorm:"not null;uniqueIndex:ux_payment_requests_open,priority:3" json:"item_id"`
	Amount    float64 `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency  string  `gorm:"type:varchar(3);not null" json:"currency"`
	Reference string  `gorm:"type:varchar(32);not null;uniqueIndex" json:"reference"`

	Status            string     `gorm:"type:varchar(30);not null;default:'created';index" json:"status"`
	SelectedWalletID  *uint      `gorm:"index" json:"selected_wallet_id,omitempty"`
	DeepLinkClickedAt *time.Time `gorm:"type:timestamp;default:null" json:"deep_link_clicked_at,omitempty"`

	ManualTxID         *string    `gorm:"type:varchar(100);default:null;index" json:"manual_tx_id,omitempty"`
	ManualAmount       *float64   `gorm:"type:decimal(20,2);default:null" json:"manual_amount,omitempty"`
	OCRProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"ocr_processed_at,omitempty"`
	OCRExtractedTxID   *string    `gorm:"type:varchar(100);default:null" json:"ocr_extracted_tx_id,omitempty"`
	OCRExtractedAmount *float64   `gorm:"type:decimal(20,2);default:null" json:"ocr_extracted_amount,omitempty"`
	OCRConfidenceScore *float64   `gorm:"default:null" json:"ocr_confidence_score,omitempty"`
	OCRRawText         string     `gorm:"type:text" json:"ocr_raw_text,omitempty"`
	OCRProvider        string     `gorm:"type:varchar(50)" json:"ocr_provider,omitempty"`
	ReceiptObjectKey   string     `gorm:"type:varchar(255)" json:"-"`

	AutoMatchedAt       *time.Time `gorm:"type:timestamp;default:null" json:"auto_matched_at,omitempty"`
	AutoMatchConfidence *float64   `gorm:"default:null" json:"auto_match_confidence,omitempty"`
	AutoMatchReason     string     `gorm:"type:text" json:"auto_match_reason,omitempty"`
	AutoMatchRuleID     *uint      `gorm:"default:null" json:"auto_match_rule_id,omitempty"`

	AdminVerifiedAt    *time.Time `gorm:"type:timestamp;default:null" json:"admin_verified_at,omitempty"`
	AdminVerifiedBy    *uint      `gorm:"default:null" json:"admin_verified_by,omitempty"`
	AdminNotes         string     `gorm:"type:text" json:"admin_notes,omitempty"`
	VerificationMethod string     `gorm:"type:varchar(30)" json:"verification_method,omitempty"`

	// OpenSlot is 1 while the request is non-terminal and NULL afterwards, so the
	// unique index only ever holds one open request per user and item.
	OpenSlot *uint8 `gorm:"uniqueIndex:ux_payment_requests_open,priority:4" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave keeps OpenSlot in sync with Status.
func (p *PaymentRequest) BeforeSave(tx *gorm.DB) error {
	p.syncOpenSlot()
	return nil
}

func (p *PaymentRequest) syncOpenSlot() {
	p.OpenSlot = OpenSlotFor(p.Status)
}

// OpenSlotFor returns the OpenSlot value a request in status must carry.
func OpenSlotFor(status string) *uint8 {
	if IsTerminalPaymentStatus(status) {
		return nil
	}
	one := uint8(1)
	return &one
}

// IsTerminal reports whether the request reached completed, failed or cancelled.
func (p *PaymentRequest) IsTerminal() bool {
	return IsTerminalPaymentStatus(p.Status)
}

// TransactionID returns the manual transaction id, falling back to the OCR one.
func (p *PaymentRequest) TransactionID() string {
	if p.ManualTxID != nil && *p.ManualTxID != "" {
		return *p.ManualTxID
	}
	if p.OCRExtractedTxID != nil {
		return *p.OCRExtractedTxID
	}
	return ""
}

// IsTerminalPaymentStatus reports whether no further transition is possible from status.
func IsTerminalPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// NonTerminalPaymentStatuses lists the statuses that still block a new request for the same item.
func NonTerminalPaymentStatuses() []string {
	return []string{
		PaymentStatusCreated,
		PaymentStatusPaymentInitiated,
		PaymentStatusPaymentVerified,
	}
}
