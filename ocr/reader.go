package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/disintegration/imaging"
)

// PlateCharacters is the character set plates are read with.
const PlateCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"

// TextBlock is one piece of recognized text. Bounds are in the pixel space
// of the image passed to the reader, origin at its top-left corner.
type TextBlock struct {
	Text       string          `json:"text"`
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float32         `json:"confidence"`
}

// Reader extracts text blocks from an image.
type Reader interface {
	ReadText(ctx context.Context, img image.Image) ([]TextBlock, error)
	Name() string
}

// Prepare applies the grayscale, contrast and sharpen pass used before OCR.
func Prepare(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	return imaging.Sharpen(out, 0.5)
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode image for ocr: %w", err)
	}
	return buf.Bytes(), nil
}

// WithinRegion keeps the blocks whose centre falls inside region. Blocks and
// region must both be in full-frame pixel coordinates; pass the CropRegion
// from detections.ToCropRegion, never the model-input box.
func WithinRegion(blocks []TextBlock, region detections.CropRegion) []TextBlock {
	if region.Empty() {
		return nil
	}

	var kept []TextBlock
	for _, b := range blocks {
		cx := float32(b.Bounds.Min.X+b.Bounds.Max.X) / 2
		cy := float32(b.Bounds.Min.Y+b.Bounds.Max.Y) / 2
		if cx >= region.X && cx <= region.X+region.Width &&
			cy >= region.Y && cy <= region.Y+region.Height {
			kept = append(kept, b)
		}
	}
	return kept
}
