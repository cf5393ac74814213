package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// VisionProvider uses Google Cloud Vision text detection.
type VisionProvider struct {
	cfg    VisionConfig
	client *http.Client
}

// NewVisionProvider creates the provider. client is only set by tests.
func NewVisionProvider(cfg VisionConfig, client *http.Client) *VisionProvider {
	return &VisionProvider{cfg: cfg, client: client}
}

func (p *VisionProvider) Name() string      { return ProviderGoogleVision }
func (p *VisionProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *VisionProvider) ProcessImage(ctx context.Context, image []byte, opts Options) (*Result, error) {
	clientOpts := []option.ClientOption{option.WithAPIKey(p.cfg.APIKey)}
	if p.cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(p.cfg.Endpoint))
	}
	if p.client != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.client))
	}

	svc, err := vision.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	annotate := &vision.AnnotateImageRequest{
		Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
	}
	if hint := visionLanguageHint(opts.Language); hint != "" {
		annotate.ImageContext = &vision.ImageContext{LanguageHints: []string{hint}}
	}

	resp, err := svc.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{annotate},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision annotate: empty response")
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate: %s", r.Error.Message)
	}

	var text string
	switch {
	case r.FullTextAnnotation != nil:
		text = r.FullTextAnnotation.Text
	case len(r.TextAnnotations) > 0:
		text = r.TextAnnotations[0].Description
	}
	return resultFromText(p.Name(), text, opts.ExpectedAmount), nil
}

// Vision expects BCP-47 hints, OCR.space style three letter codes are mapped.
func visionLanguageHint(lang string) string {
	switch lang {
	case "", "eng":
		return "en"
	case "amh":
		return "am"
	case "ger":
		return "de"
	default:
		return lang
	}
}
