package models

import (
	"time"

	"gorm.io/datatypes"
)

// Verification steps
const (
	VerificationStepAutoMatch         = "auto_match"
	VerificationStepAdminVerification = "admin_verification"
)

// Verification outcomes
const (
	VerificationOutcomeSuccess = "success"
	VerificationOutcomeFailed  = "failed"
)

// VerificationLog is an append-only audit record of a matching or admin decision.
type VerificationLog struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	PaymentRequestID uint           `gorm:"not null;index" json:"payment_request_id"`
	Step             string         `gorm:"type:varchar(30);not null" json:"step"`
	Outcome          string         `gorm:"type:varchar(20);not null" json:"outcome"`
	Details          datatypes.JSON `gorm:"type:json" json:"details"`
	Error            string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
