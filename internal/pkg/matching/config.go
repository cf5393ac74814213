package matching

import (
	"fmt"

	"github.com/ManuelReschke/PayProof/internal/pkg/env"
)

const (
	DefaultMinConfidence    = 0.7
	DefaultTolerancePercent = 5.0
	DefaultMaxMinutes       = 30.0
	DefaultHistoryLimit     = 10
)

// Base confidences used when a rule does not configure its own.
const (
	DefaultAmountMatchBase = 0.9
	DefaultTxIDPatternBase = 0.8
	DefaultTimeWindowBase  = 0.7
	DefaultUserHistoryBase = 0.5
	DefaultMinCompleted    = 1
)

// Config controls acceptance of engine results
type Config struct {
	MinConfidence float64
	Defaults      Defaults
	HistoryLimit  int
}

// Defaults apply when a rule omits the corresponding condition.
type Defaults struct {
	TolerancePercent float64
	MaxMinutes       float64
}

// DefaultConfig returns the built-in settings
func DefaultConfig() Config {
	return Config{
		MinConfidence: DefaultMinConfidence,
		Defaults: Defaults{
			TolerancePercent: DefaultTolerancePercent,
			MaxMinutes:       DefaultMaxMinutes,
		},
		HistoryLimit: DefaultHistoryLimit,
	}
}

// LoadConfig reads the matching configuration from the environment
func LoadConfig() (Config, error) {
	cfg := Config{
		MinConfidence: env.GetEnvFloat("MATCH_MIN_CONFIDENCE", DefaultMinConfidence),
		Defaults: Defaults{
			TolerancePercent: env.GetEnvFloat("MATCH_DEFAULT_TOLERANCE_PERCENT", DefaultTolerancePercent),
			MaxMinutes:       env.GetEnvFloat("MATCH_DEFAULT_MAX_MINUTES", DefaultMaxMinutes),
		},
		HistoryLimit: env.GetEnvInt("PAYMENT_HISTORY_LIMIT", DefaultHistoryLimit),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects thresholds that would silently disable or force matching
func (c Config) Validate() error {
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MATCH_MIN_CONFIDENCE must be in (0, 1], got %v", c.MinConfidence)
	}
	if c.Defaults.TolerancePercent < 0 {
		return fmt.Errorf("MATCH_DEFAULT_TOLERANCE_PERCENT must not be negative, got %v", c.Defaults.TolerancePercent)
	}
	if c.Defaults.MaxMinutes < 0 {
		return fmt.Errorf("MATCH_DEFAULT_MAX_MINUTES must not be negative, got %v", c.Defaults.MaxMinutes)
	}
	return nil
}
