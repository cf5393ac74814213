package payment

import (
	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/internal/pkg/matching"
	"github.com/ManuelReschke/PayProof/internal/pkg/ocr"
)

// InitiatePaymentInput is what a buyer submits to start a payment.
type InitiatePaymentInput struct {
	ItemType string  `json:"item_type" validate:"required,oneof=book bundle"`
	ItemID   uint    `json:"item_id" validate:"required,gt=0"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required,len=3,alpha"`
	WalletID uint    `json:"wallet_id" validate:"required,gt=0"`
}

// InitiatePaymentResult carries the new request and where to pay it.
type InitiatePaymentResult struct {
	Request  *models.PaymentRequest `json:"payment_request"`
	Wallet   *models.WalletConfig   `json:"wallet"`
	DeepLink string                 `json:"deep_link,omitempty"`
}

// SubmissionResult is returned after a manual transaction id was submitted.
type SubmissionResult struct {
	Matched              bool                   `json:"matched"`
	Confidence           float64                `json:"confidence"`
	RequiresManualReview bool                   `json:"requires_manual_review"`
	Reason               string                 `json:"reason"`
	Request              *models.PaymentRequest `json:"payment_request"`
}

// ReceiptUpload is a receipt image submitted as payment evidence.
type ReceiptUpload struct {
	Data     []byte
	Filename string
	// ClientText is optional text recognised on the buyer's device.
	ClientText string
}

// ReceiptResult is returned after a receipt was processed.
type ReceiptResult struct {
	OCR                  ocr.Result             `json:"ocr"`
	Match                *matching.Result       `json:"match,omitempty"`
	RequiresManualReview bool                   `json:"requires_manual_review"`
	Request              *models.PaymentRequest `json:"payment_request"`
}

// AdminVerification is an admin's decision on a request.
type AdminVerification struct {
	PaymentRequestID uint   `json:"-" validate:"required,gt=0"`
	AdminID          uint   `json:"-" validate:"required,gt=0"`
	Approve          bool   `json:"approve"`
	Method           string `json:"method" validate:"omitempty,oneof=auto_match manual_review transaction_id receipt"`
	Notes            string `json:"notes" validate:"max=2000"`
}

// VerificationResult reports the decision and whether the item was granted.
type VerificationResult struct {
	Request *models.PaymentRequest `json:"payment_request"`
	Granted bool                   `json:"granted"`
	// GrantRetryScheduled is set when the grant failed and was queued again.
	GrantRetryScheduled bool `json:"grant_retry_scheduled"`
}
