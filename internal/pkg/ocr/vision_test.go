package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisionProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/images:annotate"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["requests"], 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{"fullTextAnnotation":{"text":"Transaction ID: FT23145XK9Q2\nAmount ETB 500"}}]}`))
	}))
	defer srv.Close()

	p := NewVisionProvider(VisionConfig{APIKey: "key", Endpoint: srv.URL + "/"}, srv.Client())
	res, err := p.ProcessImage(context.Background(), []byte("img"), Options{ExpectedAmount: 500})
	require.NoError(t, err)
	require.NotNil(t, res.ExtractedTxID)
	assert.Equal(t, "FT23145XK9Q2", *res.ExtractedTxID)
	require.NotNil(t, res.ExtractedAmount)
	assert.InDelta(t, 500.0, *res.ExtractedAmount, 0.001)
}

func TestVisionLanguageHint(t *testing.T) {
	assert.Equal(t, "en", visionLanguageHint("eng"))
	assert.Equal(t, "am", visionLanguageHint("amh"))
	assert.Equal(t, "fr", visionLanguageHint("fr"))
}
