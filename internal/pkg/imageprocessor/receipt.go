package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2/log"
	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rwcarlsen/goexif/exif"
)

// Receipt preprocessing parameters
const (
	MaxReceiptDimension = 2000
	ReceiptContrast     = 25
	ReceiptSharpen      = 0.8
)

// ReceiptInfo describes what was found while normalizing a receipt photo.
type ReceiptInfo struct {
	Width       int
	Height      int
	Orientation int
	TakenAt     *time.Time
}

// NormalizeReceipt prepares a receipt photo for text recognition: decode,
// upright by EXIF orientation, grayscale, fit, raise contrast, encode PNG.
func NormalizeReceipt(data []byte, mimeType string) ([]byte, ReceiptInfo, error) {
	var info ReceiptInfo

	img, err := decodeReceipt(data, mimeType)
	if err != nil {
		return nil, info, err
	}

	info.Orientation, info.TakenAt = readReceiptExif(data)
	img = applyOrientation(img, info.Orientation)

	img = imaging.Grayscale(img)
	b := img.Bounds()
	if b.Dx() > MaxReceiptDimension || b.Dy() > MaxReceiptDimension {
		img = imaging.Fit(img, MaxReceiptDimension, MaxReceiptDimension, imaging.Lanczos)
	}
	img = imaging.AdjustContrast(img, ReceiptContrast)
	img = imaging.Sharpen(img, ReceiptSharpen)

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.PNG); err != nil {
		return nil, info, fmt.Errorf("error encoding receipt: %w", err)
	}

	info.Width = img.Bounds().Dx()
	info.Height = img.Bounds().Dy()
	return out.Bytes(), info, nil
}

func decodeReceipt(data []byte, mimeType string) (image.Image, error) {
	if mimeType == "image/webp" {
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, fmt.Errorf("error decoding webp receipt: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding receipt: %w", err)
	}
	return img, nil
}

// readReceiptExif returns orientation 1 when the image carries no EXIF data.
func readReceiptExif(data []byte) (int, *time.Time) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1, nil
	}

	orientation := 1
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			orientation = v
		}
	}

	var takenAt *time.Time
	if t, err := x.DateTime(); err == nil {
		takenAt = &t
	} else {
		log.Debugf("[ImageProcessor] Receipt has no capture time: %v", err)
	}
	return orientation, takenAt
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
