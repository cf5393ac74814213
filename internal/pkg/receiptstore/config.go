package receiptstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayProof/internal/pkg/env"
)

// Config holds the receipt archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("RECEIPT_ARCHIVE_ENABLED", false),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the required fields when the archive is enabled
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("S3_ACCESS_KEY_ID is required when the receipt archive is enabled")
	}
	if c.SecretAccessKey == "" {
		return errors.New("S3_SECRET_ACCESS_KEY is required when the receipt archive is enabled")
	}
	if c.BucketName == "" {
		return errors.New("S3_BUCKET_NAME is required when the receipt archive is enabled")
	}
	return nil
}

// IsEnabled returns true if receipts should be archived
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey generates the object key of an archived receipt
func ObjectKey(reference, id, fileExtension string, at time.Time) string {
	// Format: receipts/YYYY/MM/REFERENCE-ID.ext
	return fmt.Sprintf("receipts/%04d/%02d/%s-%s%s", at.Year(), int(at.Month()), reference, id, fileExtension)
}
