package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// OCRSpaceProvider calls the OCR.space parse API.
type OCRSpaceProvider struct {
	cfg    OCRSpaceConfig
	client *http.Client
}

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

func NewOCRSpaceProvider(cfg OCRSpaceConfig, client *http.Client) *OCRSpaceProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOCRSpaceURL
	}
	return &OCRSpaceProvider{cfg: cfg, client: client}
}

func (p *OCRSpaceProvider) Name() string      { return ProviderOCRSpace }
func (p *OCRSpaceProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *OCRSpaceProvider) ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", "receipt"+extensionFor(opts.MimeType))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(image); err != nil {
		return nil, err
	}
	language := opts.Language
	if language == "" {
		language = "eng"
	}
	for _, field := range [][2]string{
		{"language", language},
		{"OCREngine", "2"},
		{"scale", "true"},
	} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("ocrspace form field %s: %w", field[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", p.cfg.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocrspace request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocrspace returned status %d", resp.StatusCode)
	}

	var parsed ocrSpaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("ocrspace response invalid: %w", err)
	}
	if parsed.IsErroredOnProcessing || parsed.OCRExitCode != 1 || len(parsed.ParsedResults) == 0 {
		return nil, fmt.Errorf("ocrspace processing failed (exit code %d): %s", parsed.OCRExitCode, strings.TrimSpace(string(parsed.ErrorMessage)))
	}

	texts := make([]string, 0, len(parsed.ParsedResults))
	for _, r := range parsed.ParsedResults {
		texts = append(texts, r.ParsedText)
	}
	return resultFromText(p.Name(), strings.TrimSpace(strings.Join(texts, "\n")), opts.ExpectedAmount), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}
