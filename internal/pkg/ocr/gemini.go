package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiPrompt = "Transcribe all text on this payment receipt exactly as printed, line by line. " +
	"Do not summarise, translate or add anything."

// GeminiProvider asks a Gemini multimodal model to transcribe the receipt.
type GeminiProvider struct {
	cfg GeminiConfig
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &GeminiProvider{cfg: cfg}
}

func (p *GeminiProvider) Name() string      { return ProviderGemini }
func (p *GeminiProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *GeminiProvider) ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.cfg.Model)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.ImageData(geminiImageFormat(opts.MimeType), image), genai.Text(geminiPrompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("gemini returned no text")
	}
	return resultFromText(p.Name(), text, opts.ExpectedAmount), nil
}

func geminiImageFormat(mimeType string) string {
	if f := strings.TrimPrefix(mimeType, "image/"); f != "" && f != mimeType {
		return f
	}
	return "png"
}
