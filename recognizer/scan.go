package recognizer

import (
	"context"
	"fmt"
	"image"
	"regexp"
	"time"

	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/Tutortoise/plate-recognition-service/models"
	"github.com/Tutortoise/plate-recognition-service/ocr"
	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

// FrameScan runs OCR over the full frame and keeps only the text whose
// centre lies inside the detected plate region.
type FrameScan struct {
	detector detections.Detector
	reader   ocr.Reader
	pattern  *regexp.Regexp
}

func NewFrameScan(detector detections.Detector, reader ocr.Reader, pattern *regexp.Regexp) *FrameScan {
	return &FrameScan{detector: detector, reader: reader, pattern: pattern}
}

func (s *FrameScan) Name() string { return "frame" }

func (s *FrameScan) Close() error { return nil }

func (s *FrameScan) Recognize(ctx context.Context, img image.Image) (Result, error) {
	plate, ok, err := s.detector.DetectPlate(ctx, img)
	if err != nil {
		return Result{}, fmt.Errorf("detect plate: %w", err)
	}
	if !ok || plate.Region.Empty() {
		return Result{Backend: s.Name()}, nil
	}

	blocks, err := readTimed(ctx, s.reader, img)
	if err != nil {
		return Result{}, err
	}

	inside := ocr.WithinRegion(blocks, plate.Region)
	log.WithFields(log.Fields{
		"blocks": len(blocks),
		"inside": len(inside),
	}).Debug("filtered frame text to plate region")

	return result(s.Name(), plate, inside, s.pattern), nil
}

// CropScan crops the detected plate out of the frame and runs OCR on the
// crop only.
type CropScan struct {
	detector detections.Detector
	reader   ocr.Reader
	pattern  *regexp.Regexp
}

func NewCropScan(detector detections.Detector, reader ocr.Reader, pattern *regexp.Regexp) *CropScan {
	return &CropScan{detector: detector, reader: reader, pattern: pattern}
}

func (s *CropScan) Name() string { return "crop" }

func (s *CropScan) Close() error { return nil }

func (s *CropScan) Recognize(ctx context.Context, img image.Image) (Result, error) {
	plate, ok, err := s.detector.DetectPlate(ctx, img)
	if err != nil {
		return Result{}, fmt.Errorf("detect plate: %w", err)
	}
	if !ok || plate.Region.Empty() {
		return Result{Backend: s.Name()}, nil
	}

	rect := plate.Region.Rect().Add(img.Bounds().Min)
	crop := imaging.Crop(img, rect)
	if crop.Bounds().Empty() {
		return Result{Backend: s.Name()}, nil
	}

	blocks, err := readTimed(ctx, s.reader, crop)
	if err != nil {
		return Result{}, err
	}

	return result(s.Name(), plate, blocks, s.pattern), nil
}

func readTimed(ctx context.Context, reader ocr.Reader, img image.Image) ([]ocr.TextBlock, error) {
	timings := models.TimingsFrom(ctx)
	start := time.Now()
	blocks, err := reader.ReadText(ctx, img)
	timings.OCR = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s ocr: %w", reader.Name(), err)
	}
	return blocks, nil
}

func result(backend string, plate detections.Plate, blocks []ocr.TextBlock, pattern *regexp.Regexp) Result {
	region := plate.Region
	text, conf := PickBest(blocks, pattern)
	if text == "" {
		return Result{Region: &region, Backend: backend}
	}
	return Result{
		Plate:      text,
		Confidence: conf,
		Region:     &region,
		Backend:    backend,
	}
}

var (
	_ Recognizer = (*FrameScan)(nil)
	_ Recognizer = (*CropScan)(nil)
)
