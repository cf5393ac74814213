package ocr

import (
	"time"

	"github.com/ManuelReschke/PayProof/internal/pkg/env"
)

const (
	DefaultMinConfidence   = 0.5
	DefaultProviderTimeout = 20 * time.Second
	DefaultOCRSpaceURL     = "https://api.ocr.space/parse/image"
	DefaultGeminiModel     = "gemini-1.5-flash"
)

// Config holds everything needed to build the provider chain.
type Config struct {
	Primary          string
	Fallbacks        []string
	MinConfidence    float64
	ProviderTimeout  time.Duration
	AcceptClientText bool
	Language         string

	OCRSpace OCRSpaceConfig
	Vision   VisionConfig
	Gemini   GeminiConfig
}

type OCRSpaceConfig struct {
	APIKey string
	URL    string
}

type VisionConfig struct {
	APIKey   string
	Endpoint string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// LoadConfig reads the OCR configuration from the environment
func LoadConfig() Config {
	fallbacks := env.GetEnvList("OCR_FALLBACK_PROVIDERS")
	if fallbacks == nil {
		fallbacks = []string{ProviderGoogleVision, ProviderGemini, ProviderClientText}
	}
	return Config{
		Primary:          env.GetEnv("OCR_PRIMARY_PROVIDER", ProviderOCRSpace),
		Fallbacks:        fallbacks,
		MinConfidence:    env.GetEnvFloat("OCR_MIN_CONFIDENCE", DefaultMinConfidence),
		ProviderTimeout:  env.GetEnvSeconds("OCR_PROVIDER_TIMEOUT_SECONDS", DefaultProviderTimeout),
		AcceptClientText: env.GetEnvBool("OCR_ACCEPT_CLIENT_TEXT", true),
		Language:         env.GetEnv("OCR_LANGUAGE", "eng"),
		OCRSpace: OCRSpaceConfig{
			APIKey: env.GetEnv("OCRSPACE_API_KEY", ""),
			URL:    env.GetEnv("OCRSPACE_URL", DefaultOCRSpaceURL),
		},
		Vision: VisionConfig{
			APIKey:   env.GetEnv("GOOGLE_VISION_API_KEY", ""),
			Endpoint: env.GetEnv("GOOGLE_VISION_ENDPOINT", ""),
		},
		Gemini: GeminiConfig{
			APIKey: env.GetEnv("GEMINI_API_KEY", ""),
			Model:  env.GetEnv("GEMINI_MODEL", DefaultGeminiModel),
		},
	}
}

// ProviderOrder returns the primary followed by the fallbacks, without duplicates.
func (c Config) ProviderOrder() []string {
	seen := make(map[string]bool)
	var order []string
	for _, name := range append([]string{c.Primary}, c.Fallbacks...) {
		if name == "" || name == ProviderStub || seen[name] {
			continue
		}
		seen[name] = true
		order = append(order, name)
	}
	return order
}
