package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuelReschke/PayProof/app/models"
	"gorm.io/gorm"
)

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// ErrStaleState is returned when a conditional update found the row in another state.
var ErrStaleState = errors.New("record state changed")

// PaymentRequestRepository defines the persistence operations on payment requests
type PaymentRequestRepository interface {
	Create(ctx context.Context, request *models.PaymentRequest) error
	UpdateIfStatus(ctx context.Context, id uint, statuses []string, fields map[string]interface{}) error
	GetByID(ctx context.Context, id uint) (*models.PaymentRequest, error)
	GetByUserID(ctx context.Context, userID uint) ([]models.PaymentRequest, error)
	GetRecentByUserID(ctx context.Context, userID uint, excludeID uint, limit int) ([]models.PaymentRequest, error)
	HasOpenRequest(ctx context.Context, userID uint, itemType string, itemID uint) (bool, error)
}

// WalletConfigRepository provides read access to payment destinations
type WalletConfigRepository interface {
	GetActive(ctx context.Context) ([]models.WalletConfig, error)
	GetActiveByID(ctx context.Context, id uint) (*models.WalletConfig, error)
}

// AutoMatchingRuleRepository provides read access to the matching rules
type AutoMatchingRuleRepository interface {
	GetActive(ctx context.Context) ([]models.AutoMatchingRule, error)
}

// VerificationLogRepository appends audit entries. There is intentionally no update or delete.
type VerificationLogRepository interface {
	AddEntry(ctx context.Context, paymentRequestID uint, step, outcome string, details map[string]interface{}, entryErr error) error
	ListByPaymentRequest(ctx context.Context, paymentRequestID uint) ([]models.VerificationLog, error)
}

// PurchaseRepository grants purchased items to a buyer's library
type PurchaseRepository interface {
	GrantPurchase(ctx context.Context, userID uint, itemType string, itemID uint, paymentRequestID uint) error
	HasPurchase(ctx context.Context, userID uint, itemType string, itemID uint) (bool, error)
}

// UserRepository reads user accounts
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	PaymentRequest  PaymentRequestRepository
	WalletConfig    WalletConfigRepository
	Rule            AutoMatchingRuleRepository
	VerificationLog VerificationLogRepository
	Purchase        PurchaseRepository
	User            UserRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PaymentRequest:  NewPaymentRequestRepository(db),
		WalletConfig:    NewWalletConfigRepository(db),
		Rule:            NewAutoMatchingRuleRepository(db),
		VerificationLog: NewVerificationLogRepository(db),
		Purchase:        NewPurchaseRepository(db),
		User:            NewUserRepository(db),
	}
}

// isDuplicateKeyError covers drivers that do not translate unique violations.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value")
}
