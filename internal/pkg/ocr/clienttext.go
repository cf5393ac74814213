package ocr

import (
	"context"
	"strings"
)

// ClientTextProvider scores text the buyer's browser already recognised.
type ClientTextProvider struct {
	enabled bool
}

func NewClientTextProvider(enabled bool) *ClientTextProvider {
	return &ClientTextProvider{enabled: enabled}
}

func (p *ClientTextProvider) Name() string      { return ProviderClientText }
func (p *ClientTextProvider) IsAvailable() bool { return p.enabled }

func (p *ClientTextProvider) ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error) {
	text := strings.TrimSpace(opts.ClientText)
	if text == "" {
		return nil, ErrProviderUnavailable
	}
	return resultFromText(p.Name(), text, opts.ExpectedAmount), nil
}
