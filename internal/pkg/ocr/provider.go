package ocr

import (
	"context"
	"errors"
)

// Provider names
const (
	ProviderClientText   = "client_text"
	ProviderOCRSpace     = "ocrspace"
	ProviderGoogleVision = "google_vision"
	ProviderGemini       = "gemini"
	ProviderStub         = "stub"
)

// ErrProviderUnavailable is returned by a provider that cannot serve a request.
var ErrProviderUnavailable = errors.New("ocr provider unavailable")

// Options carries per-request hints for a provider.
type Options struct {
	ExpectedAmount float64
	Language       string
	MimeType       string
	// ClientText is text already recognised on the buyer's device.
	ClientText string
}

// Result is what a provider extracted from a receipt image.
type Result struct {
	ExtractedTxID    *string  `json:"extracted_tx_id,omitempty"`
	ExtractedAmount  *float64 `json:"extracted_amount,omitempty"`
	ConfidenceScore  float64  `json:"confidence_score"`
	RawText          string   `json:"raw_text"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
	Provider         string   `json:"provider"`
	Error            string   `json:"error,omitempty"`
}

// HasEvidence reports whether a transaction id or an amount was extracted.
func (r *Result) HasEvidence() bool {
	return r.ExtractedTxID != nil || r.ExtractedAmount != nil
}

// Provider turns receipt image bytes into text and extracted fields.
type Provider interface {
	Name() string
	IsAvailable() bool
	ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error)
}

// resultFromText runs field extraction and scoring over recognised text.
func resultFromText(provider, text string, expected float64) *Result {
	txID, amount := Extract(text)
	return &Result{
		ExtractedTxID:   txID,
		ExtractedAmount: amount,
		ConfidenceScore: Confidence(text, txID, amount, expected),
		RawText:         text,
		Provider:        provider,
	}
}
