package upload

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxReceiptSize is the largest accepted receipt upload.
const MaxReceiptSize = 10 << 20

var (
	ErrEmptyFile       = errors.New("receipt file is empty")
	ErrFileTooLarge    = fmt.Errorf("receipt exceeds %d MiB", MaxReceiptSize>>20)
	ErrUnsupportedType = errors.New("only JPG, PNG, WEBP, GIF and BMP receipts are supported")
)

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	// "image/svg+xml": scriptable, never accepted
}

// ValidateReceipt checks size and sniffed content type of an uploaded receipt.
// The extension is only consulted when a filename is given. Returns the detected mime.
func ValidateReceipt(filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if len(data) > MaxReceiptSize {
		return "", ErrFileTooLarge
	}
	if filename != "" {
		ext := strings.ToLower(filepath.Ext(filename))
		if ext != "" && !allowedExt[ext] {
			return "", ErrUnsupportedType
		}
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	detected := http.DetectContentType(head)

	// Block obvious scriptable types regardless of extension
	if strings.HasPrefix(detected, "text/") || strings.HasPrefix(detected, "application/xhtml") ||
		strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", ErrUnsupportedType
	}
	if !allowedMime[detected] {
		return "", ErrUnsupportedType
	}
	return detected, nil
}
