package ocr

import "context"

const (
	StubConfidence = 0.1
	StubRawText    = "manual entry required"
)

// StubProvider is the last resort. It never recognises anything.
type StubProvider struct{}

func (StubProvider) Name() string      { return ProviderStub }
func (StubProvider) IsAvailable() bool { return true }

func (StubProvider) ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error) {
	return stubResult(), nil
}

func stubResult() *Result {
	return &Result{
		ConfidenceScore: StubConfidence,
		RawText:         StubRawText,
		Provider:        ProviderStub,
	}
}
