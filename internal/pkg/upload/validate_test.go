package upload

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidateReceipt(t *testing.T) {
	valid := pngBytes(t)

	mime, err := ValidateReceipt("receipt.png", valid)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	mime, err = ValidateReceipt("", valid)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	_, err = ValidateReceipt("receipt.png", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = ValidateReceipt("receipt.svg", valid)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ValidateReceipt("receipt.png", []byte("<html><script>alert(1)</script></html>"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ValidateReceipt("receipt.pdf", []byte("%PDF-1.4 something"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	tooLarge := make([]byte, MaxReceiptSize+1)
	copy(tooLarge, valid)
	_, err = ValidateReceipt("receipt.png", tooLarge)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}
