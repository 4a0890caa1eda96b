// Package recognizer turns a camera frame into a licence plate string.
//
// Three interchangeable backends are provided: Remote forwards the frame to
// an upstream recognition service, FrameScan runs OCR over the whole frame
// and keeps the text inside the detected plate, and CropScan runs OCR over
// the detected plate crop only.
package recognizer

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"regexp"

	"github.com/Tutortoise/plate-recognition-service/config"
	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/Tutortoise/plate-recognition-service/ocr"
)

// Unknown is the plate value reported on the wire when nothing was read.
const Unknown = "UNKNOWN"

type Result struct {
	Plate      string                 `json:"plate"`
	Confidence float32                `json:"confidence,omitempty"`
	Region     *detections.CropRegion `json:"region,omitempty"`
	Backend    string                 `json:"backend"`
}

// Found reports whether a plate was read. An empty result is an ordinary
// outcome, not an error.
func (r Result) Found() bool {
	return r.Plate != ""
}

type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (Result, error)
	Name() string
	Close() error
}

// Deps are the collaborators a backend may need.
type Deps struct {
	Detector   detections.Detector
	Reader     ocr.Reader
	HTTPClient *http.Client
}

// New builds the backend selected by cfg.Recognizer.
func New(cfg *config.Config, deps Deps) (Recognizer, error) {
	pattern, err := compilePattern(cfg.PlatePattern)
	if err != nil {
		return nil, err
	}

	switch cfg.Recognizer {
	case config.RecognizerRemote:
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: cfg.RemoteTimeout}
		}
		return NewRemote(cfg.RemoteURL, client), nil
	case config.RecognizerFrame:
		if deps.Detector == nil || deps.Reader == nil {
			return nil, fmt.Errorf("recognizer %q needs a detector and an OCR reader", cfg.Recognizer)
		}
		return NewFrameScan(deps.Detector, deps.Reader, pattern), nil
	case config.RecognizerCrop:
		if deps.Detector == nil || deps.Reader == nil {
			return nil, fmt.Errorf("recognizer %q needs a detector and an OCR reader", cfg.Recognizer)
		}
		return NewCropScan(deps.Detector, deps.Reader, pattern), nil
	default:
		return nil, fmt.Errorf("unknown recognizer: %s", cfg.Recognizer)
	}
}

func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid plate pattern: %w", err)
	}
	return re, nil
}
