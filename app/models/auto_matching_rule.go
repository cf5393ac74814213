package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Supported rule types
const (
	RuleTypeAmountMatch = "amount_match"
	RuleTypeTxIDPattern = "tx_id_pattern"
	RuleTypeTimeWindow  = "time_window"
	RuleTypeUserHistory = "user_history"
)

// AutoMatchingRule is a configured check contributing to the auto-match confidence.
// Conditions are interpreted per RuleType, see the *Conditions types below.
type AutoMatchingRule struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(100);not null" json:"name"`
	RuleType    string         `gorm:"type:varchar(30);not null;index" json:"rule_type" validate:"oneof=amount_match tx_id_pattern time_window user_history"`
	Conditions  datatypes.JSON `gorm:"type:json" json:"conditions"`
	Priority    int            `gorm:"default:0;index" json:"priority"`
	IsActive    bool           `gorm:"default:true;index" json:"is_active"`
	Description string         `gorm:"type:text" json:"description"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// AmountMatchConditions configures an amount_match rule.
type AmountMatchConditions struct {
	TolerancePercent *float64 `json:"tolerance_percent,omitempty" validate:"omitempty,gt=0,lte=100"`
	BaseConfidence   *float64 `json:"base_confidence,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// TxIDPatternConditions configures a tx_id_pattern rule.
type TxIDPatternConditions struct {
	Pattern        string   `json:"pattern" validate:"required,max=500"`
	BaseConfidence *float64 `json:"base_confidence,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// TimeWindowConditions configures a time_window rule.
type TimeWindowConditions struct {
	MaxMinutes     *float64 `json:"max_minutes,omitempty" validate:"omitempty,gt=0"`
	BaseConfidence *float64 `json:"base_confidence,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// UserHistoryConditions configures a user_history rule.
type UserHistoryConditions struct {
	MinCompleted   *int     `json:"min_completed,omitempty" validate:"omitempty,gte=1"`
	BaseConfidence *float64 `json:"base_confidence,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// DecodeConditions unmarshals the raw condition payload into the struct
// matching the rule type.
func (r *AutoMatchingRule) DecodeConditions() (interface{}, error) {
	var target interface{}
	switch r.RuleType {
	case RuleTypeAmountMatch:
		target = &AmountMatchConditions{}
	case RuleTypeTxIDPattern:
		target = &TxIDPatternConditions{}
	case RuleTypeTimeWindow:
		target = &TimeWindowConditions{}
	case RuleTypeUserHistory:
		target = &UserHistoryConditions{}
	default:
		return nil, fmt.Errorf("unknown rule type %q", r.RuleType)
	}

	raw := []byte(r.Conditions)
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("invalid conditions for rule %d: %w", r.ID, err)
	}
	return target, nil
}
