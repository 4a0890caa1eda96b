package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/plate-recognition-service/models"
)

// Plate is a plate candidate of one frame. Region is in frame pixels
// relative to the image's top-left corner.
type Plate struct {
	Box        Box        `json:"-"`
	Confidence float32    `json:"confidence"`
	Region     CropRegion `json:"region"`
}

// Detector locates licence plates in a frame.
type Detector interface {
	DetectPlate(ctx context.Context, img image.Image) (Plate, bool, error)
	// DetectAll lists suppressed candidates, strongest first.
	DetectAll(ctx context.Context, img image.Image) ([]Plate, error)
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// sessionSource is the part of SessionPool the detector needs.
type sessionSource interface {
	Acquire(ctx context.Context) (*ModelSession, error)
	Release(session *ModelSession)
	Discard(session *ModelSession, cause error)
}

// OnnxDetector runs the plate model through a session pool.
type OnnxDetector struct {
	pool         sessionSource
	cfg          ModelConfig
	threshold    float32
	preprocessor *Preprocessor
	input        func(*ModelSession) []float32
	run          func(*ModelSession) ([]float32, error)
}

func NewOnnxDetector(pool *SessionPool, cfg ModelConfig, threshold float32) *OnnxDetector {
	return &OnnxDetector{
		pool:         pool,
		cfg:          cfg,
		threshold:    threshold,
		preprocessor: NewPreprocessor(cfg.InputSize, cfg.InputSize),
		input:        inputBuffer,
		run:          runSession,
	}
}

func inputBuffer(m *ModelSession) []float32 {
	return m.Input.GetData()
}

func runSession(m *ModelSession) ([]float32, error) {
	if err := m.Session.Run(); err != nil {
		return nil, err
	}
	out := m.Output.GetData()
	// the tensor is reused by the next request on this session
	return append([]float32(nil), out...), nil
}

func (d *OnnxDetector) DetectPlate(ctx context.Context, img image.Image) (Plate, bool, error) {
	output, err := d.infer(ctx, img)
	if err != nil {
		return Plate{}, false, err
	}

	timings := models.TimingsFrom(ctx)
	postStart := time.Now()
	defer func() { timings.Postprocess = time.Since(postStart) }()

	box, conf, ok := DecodeBestBox(output, d.cfg.NumCandidates, d.threshold)
	if !ok {
		return Plate{}, false, nil
	}
	return d.toPlate(box, conf, img), true, nil
}

// DetectAll returns the plates left after overlap suppression, strongest
// first. The first plate is the one DetectPlate reports for the same frame.
func (d *OnnxDetector) DetectAll(ctx context.Context, img image.Image) ([]Plate, error) {
	output, err := d.infer(ctx, img)
	if err != nil {
		return nil, err
	}

	dets := SuppressOverlaps(DecodeAll(output, d.cfg.NumCandidates, d.threshold), IouThreshold)
	plates := make([]Plate, 0, len(dets))
	for _, det := range dets {
		plates = append(plates, d.toPlate(det.Box, det.Confidence, img))
	}
	return plates, nil
}

func (d *OnnxDetector) toPlate(box Box, conf float32, img image.Image) Plate {
	input := float32(d.cfg.InputSize)
	if d.cfg.NormalizedOutput {
		box = box.Scale(input, input)
	}
	frame := Size{
		Width:  float32(img.Bounds().Dx()),
		Height: float32(img.Bounds().Dy()),
	}
	region := ToCropRegion(box, Size{Width: input, Height: input}, frame)
	return Plate{Box: box, Confidence: conf, Region: region}
}

// infer runs the model with the retry policy of RetryAttempts and returns
// a private copy of the output tensor.
func (d *OnnxDetector) infer(ctx context.Context, img image.Image) ([]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		output, err := d.inferOnce(ctx, img)
		if err == nil {
			return output, nil
		}
		lastErr = err

		var perr *ProcessingError
		if !errors.As(err, &perr) {
			// pool errors are not worth retrying
			return nil, err
		}

		if attempt < RetryAttempts {
			time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
		}
	}

	return nil, lastErr
}

func (d *OnnxDetector) inferOnce(ctx context.Context, img image.Image) ([]float32, error) {
	timings := models.TimingsFrom(ctx)
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	prepStart := time.Now()
	err = d.preprocessor.Process(img, d.input(session))
	timings.Preprocess = time.Since(prepStart)
	if err != nil {
		d.pool.Release(session)
		return nil, err
	}

	inferStart := time.Now()
	output, err := d.run(session)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		d.pool.Discard(session, err)
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	d.pool.Release(session)

	if want := NumChannels * d.cfg.NumCandidates; len(output) != want {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(output), want)
	}
	return output, nil
}
