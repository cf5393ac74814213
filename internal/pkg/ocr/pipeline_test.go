package ocr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	available bool
	result    *Result
	err       error
	panicMsg  string
	delay     time.Duration
	calls     atomic.Int32
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) IsAvailable() bool { return f.available }

func (f *fakeProvider) ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error) {
	f.calls.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func confidentResult(txID string) *Result {
	amount := 100.0
	return &Result{ExtractedTxID: &txID, ExtractedAmount: &amount, ConfidenceScore: 0.9, RawText: "receipt"}
}

func TestPipelineAllUnavailableReturnsStub(t *testing.T) {
	p := NewPipeline(0.5, time.Second,
		&fakeProvider{name: "a", available: false},
		&fakeProvider{name: "b", available: true, err: errors.New("boom")},
		&fakeProvider{name: "c", available: true, panicMsg: "kaboom"},
	)

	res := p.Extract(context.Background(), []byte("img"), Options{})

	assert.Equal(t, ProviderStub, res.Provider)
	assert.InDelta(t, StubConfidence, res.ConfidenceScore, 1e-9)
	assert.Equal(t, StubRawText, res.RawText)
	assert.Nil(t, res.ExtractedTxID)
	assert.Nil(t, res.ExtractedAmount)
	assert.GreaterOrEqual(t, res.ProcessingTimeMS, int64(0))
}

func TestPipelineFirstConfidentProviderWins(t *testing.T) {
	low := &fakeProvider{name: "low", available: true, result: &Result{ConfidenceScore: 0.2, RawText: "blurry"}}
	good := &fakeProvider{name: "good", available: true, result: confidentResult("AB12345678")}
	never := &fakeProvider{name: "never", available: true, result: confidentResult("ZZ00000000")}

	p := NewPipeline(0.5, time.Second, low, good, never)
	res := p.Extract(context.Background(), []byte("img"), Options{})

	assert.Equal(t, "good", res.Provider)
	require.NotNil(t, res.ExtractedTxID)
	assert.Equal(t, "AB12345678", *res.ExtractedTxID)
	assert.Equal(t, int32(1), low.calls.Load())
	assert.Equal(t, int32(0), never.calls.Load())
}

func TestPipelineSkipsUnavailableWithoutCalling(t *testing.T) {
	off := &fakeProvider{name: "off", available: false, result: confidentResult("AB12345678")}
	p := NewPipeline(0.5, time.Second, off)

	res := p.Extract(context.Background(), nil, Options{})

	assert.Equal(t, ProviderStub, res.Provider)
	assert.Equal(t, int32(0), off.calls.Load())
}

func TestPipelineTimeoutCountsAsUnavailable(t *testing.T) {
	slow := &fakeProvider{name: "slow", available: true, delay: time.Second, result: confidentResult("AB12345678")}
	fast := &fakeProvider{name: "fast", available: true, result: confidentResult("CD12345678")}

	p := NewPipeline(0.5, 20*time.Millisecond, slow, fast)
	res := p.Extract(context.Background(), nil, Options{})

	assert.Equal(t, "fast", res.Provider)
}

func TestPipelineCancelledContextYieldsStub(t *testing.T) {
	good := &fakeProvider{name: "good", available: true, result: confidentResult("AB12345678")}
	p := NewPipeline(0.5, time.Second, good)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Extract(ctx, nil, Options{})

	assert.Equal(t, ProviderStub, res.Provider)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, int32(0), good.calls.Load())
}

func TestPipelineClientTextProvider(t *testing.T) {
	p := NewPipeline(0.5, time.Second, NewClientTextProvider(true))

	res := p.Extract(context.Background(), nil, Options{
		ExpectedAmount: 1250,
		ClientText:     "Bank transfer receipt\nRef: AB12345678\nTotal: 1,250.00\nThank you",
	})

	assert.Equal(t, ProviderClientText, res.Provider)
	require.NotNil(t, res.ExtractedTxID)
	assert.Equal(t, "AB12345678", *res.ExtractedTxID)
	require.NotNil(t, res.ExtractedAmount)
	assert.InDelta(t, 1250.0, *res.ExtractedAmount, 0.001)
	assert.GreaterOrEqual(t, res.ConfidenceScore, 0.5)
	assert.LessOrEqual(t, res.ConfidenceScore, 1.0)
}

func TestBuildProvidersOrderAndAvailability(t *testing.T) {
	cfg := Config{
		Primary:          ProviderGemini,
		Fallbacks:        []string{ProviderOCRSpace, ProviderGemini, "tesseract", ProviderStub, ProviderClientText},
		AcceptClientText: true,
		OCRSpace:         OCRSpaceConfig{APIKey: "k"},
	}

	providers := BuildProviders(cfg, nil)
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}

	assert.Equal(t, []string{ProviderGemini, ProviderOCRSpace, ProviderClientText}, names)
	assert.False(t, providers[0].IsAvailable())
	assert.True(t, providers[1].IsAvailable())
	assert.True(t, providers[2].IsAvailable())
}
