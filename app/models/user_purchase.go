package models

import "time"

// UserPurchase is an item in a buyer's library.
type UserPurchase struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex:ux_user_purchases_item,priority:1" json:"user_id"`
	ItemType         string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_user_purchases_item,priority:2" json:"item_type"`
	ItemID           uint      `gorm:"not null;uniqueIndex:ux_user_purchases_item,priority:3" json:"item_id"`
	PaymentRequestID uint      `gorm:"index" json:"payment_request_id"`
	GrantedAt        time.Time `gorm:"autoCreateTime" json:"granted_at"`
}
