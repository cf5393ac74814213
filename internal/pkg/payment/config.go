package payment

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PayProof/internal/pkg/env"
)

const (
	DefaultReferencePrefix     = "PP"
	DefaultNotificationTimeout = 30 * time.Second
)

// Config holds the orchestrator settings
type Config struct {
	// ReferencePrefix is prepended to generated payment references.
	ReferencePrefix     string
	NotificationTimeout time.Duration
}

// LoadConfig reads the payment configuration from the environment
func LoadConfig() Config {
	return Config{
		ReferencePrefix:     strings.ToUpper(env.GetEnv("PAYMENT_REFERENCE_PREFIX", DefaultReferencePrefix)),
		NotificationTimeout: env.GetEnvSeconds("PAYMENT_NOTIFICATION_TIMEOUT_SECONDS", DefaultNotificationTimeout),
	}
}

func (c Config) withDefaults() Config {
	if c.ReferencePrefix == "" {
		c.ReferencePrefix = DefaultReferencePrefix
	}
	if c.NotificationTimeout <= 0 {
		c.NotificationTimeout = DefaultNotificationTimeout
	}
	return c
}
