package tesseract

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/Tutortoise/plate-recognition-service/ocr"
	"github.com/otiai10/gosseract/v2"
	log "github.com/sirupsen/logrus"
)

// Reader reads text with a local tesseract install. A client is
// created per call; gosseract clients are not safe for concurrent use.
type Reader struct {
	Language string
	PageMode gosseract.PageSegMode
}

func NewReader(language string) *Reader {
	if language == "" {
		language = "eng"
	}
	return &Reader{
		Language: language,
		PageMode: gosseract.PSM_SPARSE_TEXT,
	}
}

func (r *Reader) Name() string { return "tesseract" }

func (r *Reader) ReadText(ctx context.Context, img image.Image) ([]ocr.TextBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := ocr.EncodeJPEG(ocr.Prepare(img))
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.Language); err != nil {
		return nil, fmt.Errorf("set tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(r.PageMode); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(ocr.PlateCharacters); err != nil {
		return nil, fmt.Errorf("set whitelist: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image for OCR: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	blocks := make([]ocr.TextBlock, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		blocks = append(blocks, ocr.TextBlock{
			Text:       text,
			Bounds:     b.Box,
			Confidence: float32(b.Confidence / 100),
		})
	}

	log.WithField("blocks", len(blocks)).Debug("tesseract finished")
	return blocks, nil
}

var _ ocr.Reader = (*Reader)(nil)
