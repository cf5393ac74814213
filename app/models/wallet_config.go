package models

import "time"

const (
	WalletTypeBank        = "bank"
	WalletTypeMobileMoney = "mobile_money"
)

// WalletConfig is a payment destination offered to buyers.
type WalletConfig struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(100);not null" json:"name"`
	Provider         string    `gorm:"type:varchar(50);not null" json:"provider"`
	WalletType       string    `gorm:"type:varchar(20);not null;default:'mobile_money'" json:"wallet_type"`
	AccountName      string    `gorm:"type:varchar(150)" json:"account_name"`
	AccountNumber    string    `gorm:"type:varchar(100);not null" json:"account_number"`
	Currency         string    `gorm:"type:varchar(3);not null" json:"currency"`
	DeepLinkTemplate string    `gorm:"type:varchar(500)" json:"deep_link_template,omitempty"`
	Instructions     string    `gorm:"type:text" json:"instructions,omitempty"`
	IsActive         bool      `gorm:"default:true;index" json:"is_active"`
	SortOrder        int       `gorm:"default:100" json:"sort_order"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
