package ocr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Pipeline tries providers in order until one is confident enough.
type Pipeline struct {
	providers     []Provider
	stub          Provider
	minConfidence float64
	timeout       time.Duration
	language      string
}

// NewPipeline builds a pipeline over an explicit provider chain.
func NewPipeline(minConfidence float64, timeout time.Duration, providers ...Provider) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Pipeline{
		providers:     providers,
		stub:          StubProvider{},
		minConfidence: minConfidence,
		timeout:       timeout,
	}
}

// NewPipelineFromConfig builds the provider chain named by cfg.
func NewPipelineFromConfig(cfg Config, httpClient *http.Client) *Pipeline {
	providers := BuildProviders(cfg, httpClient)
	p := NewPipeline(cfg.MinConfidence, cfg.ProviderTimeout, providers...)
	p.language = cfg.Language
	return p
}

// BuildProviders resolves provider names to instances. Unknown names are skipped.
func BuildProviders(cfg Config, httpClient *http.Client) []Provider {
	var providers []Provider
	for _, name := range cfg.ProviderOrder() {
		switch name {
		case ProviderClientText:
			providers = append(providers, NewClientTextProvider(cfg.AcceptClientText))
		case ProviderOCRSpace:
			providers = append(providers, NewOCRSpaceProvider(cfg.OCRSpace, httpClient))
		case ProviderGoogleVision:
			providers = append(providers, NewVisionProvider(cfg.Vision, nil))
		case ProviderGemini:
			providers = append(providers, NewGeminiProvider(cfg.Gemini))
		default:
			log.Warnf("[OCR] Unknown provider %q in configuration, skipping", name)
		}
	}
	return providers
}

// Providers returns the configured chain, excluding the stub.
func (p *Pipeline) Providers() []Provider {
	return p.providers
}

// Extract never fails. When no provider produces a confident result the stub
// result is returned so the caller can fall back to manual entry.
func (p *Pipeline) Extract(ctx context.Context, image []byte, opts Options) Result {
	start := time.Now()
	if opts.Language == "" {
		opts.Language = p.language
	}

	for _, provider := range p.providers {
		if err := ctx.Err(); err != nil {
			res := p.stubResult(ctx, image, opts)
			res.Error = err.Error()
			res.ProcessingTimeMS = time.Since(start).Milliseconds()
			return res
		}
		if !p.available(provider) {
			continue
		}

		res, err := p.run(ctx, provider, image, opts)
		if err != nil {
			log.Warnf("[OCR] Provider %s unavailable: %v", provider.Name(), err)
			continue
		}
		if res.ConfidenceScore >= p.minConfidence {
			res.ConfidenceScore = clamp01(res.ConfidenceScore)
			res.Provider = provider.Name()
			res.ProcessingTimeMS = time.Since(start).Milliseconds()
			log.Infof("[OCR] Provider %s answered with confidence %.2f", provider.Name(), res.ConfidenceScore)
			return *res
		}
		log.Debugf("[OCR] Provider %s below threshold (%.2f < %.2f)", provider.Name(), res.ConfidenceScore, p.minConfidence)
	}

	res := p.stubResult(ctx, image, opts)
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
	}
	res.ProcessingTimeMS = time.Since(start).Milliseconds()
	return res
}

func (p *Pipeline) stubResult(ctx context.Context, image []byte, opts Options) Result {
	res, err := p.stub.ProcessImage(ctx, image, opts)
	if err != nil || res == nil {
		return *stubResult()
	}
	return *res
}

func (p *Pipeline) available(provider Provider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[OCR] Provider %s panicked in IsAvailable: %v", provider.Name(), r)
			ok = false
		}
	}()
	return provider.IsAvailable()
}

// run calls a provider under its own deadline, converting panics into errors.
func (p *Pipeline) run(ctx context.Context, provider Provider, image []byte, opts Options) (res *Result, err error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", ErrProviderUnavailable, r)}
			}
		}()
		r, e := provider.ProcessImage(callCtx, image, opts)
		done <- outcome{res: r, err: e}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		if o.res == nil {
			return nil, fmt.Errorf("%w: empty result", ErrProviderUnavailable)
		}
		return o.res, nil
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, callCtx.Err())
	}
}
