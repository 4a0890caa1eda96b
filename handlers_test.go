package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/plate-recognition-service/config"
	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/Tutortoise/plate-recognition-service/handoff"
	"github.com/Tutortoise/plate-recognition-service/models"
	"github.com/Tutortoise/plate-recognition-service/recognizer"
)

type fakeRecognizer struct {
	mu     sync.Mutex
	result recognizer.Result
	err    error
	calls  int
	delay  time.Duration
}

func (f *fakeRecognizer) Recognize(ctx context.Context, _ image.Image) (recognizer.Result, error) {
	f.mu.Lock()
	f.calls++
	result, err, delay := f.result, f.err, f.delay
	f.mu.Unlock()

	models.TimingsFrom(ctx).OCR = time.Millisecond
	if delay > 0 {
		time.Sleep(delay)
	}
	return result, err
}

func (f *fakeRecognizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Close() error { return nil }

type fakeDetector struct {
	plate detections.Plate
	ok    bool
	all   []detections.Plate
	err   error
	calls int
}

func (f *fakeDetector) DetectPlate(context.Context, image.Image) (detections.Plate, bool, error) {
	f.calls++
	return f.plate, f.ok, f.err
}

func (f *fakeDetector) DetectAll(context.Context, image.Image) ([]detections.Plate, error) {
	f.calls++
	return f.all, f.err
}

type recordingSink struct {
	mu    sync.Mutex
	reads []handoff.Read
	err   error
}

func (s *recordingSink) Deliver(_ context.Context, read handoff.Read) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, read)
	return s.err
}

func (s *recordingSink) Reads() []handoff.Read {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]handoff.Read(nil), s.reads...)
}

type fakeStore struct {
	reads     []handoff.Read
	err       error
	lastLimit int
}

func (f *fakeStore) Recent(_ context.Context, limit int) ([]handoff.Read, error) {
	f.lastLimit = limit
	return f.reads, f.err
}

func foundResult() recognizer.Result {
	return recognizer.Result{
		Plate:      "51G12345",
		Confidence: 0.87,
		Backend:    "crop",
		Region:     &detections.CropRegion{X: 10, Y: 20, Width: 100, Height: 40},
	}
}

func newTestState(rec recognizer.Recognizer) (*AppState, *recordingSink) {
	sink := &recordingSink{}
	return &AppState{
		Config:     &config.Config{StreamFPS: 0, StreamBurst: 1},
		Recognizer: rec,
		Sink:       sink,
		Stream:     &streamMetrics{},
	}, sink
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	return buf.Bytes()
}

// zeroWidthJPEG is a valid JPEG whose frame header declares a width of 0.
// It decodes without error into an image with empty bounds.
func zeroWidthJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil))
	data := buf.Bytes()

	sof := bytes.Index(data, []byte{0xFF, 0xC0})
	require.GreaterOrEqual(t, sof, 0)
	// marker(2) length(2) precision(1) height(2) width(2)
	data[sof+7], data[sof+8] = 0, 0

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, img.Bounds().Empty())
	return data
}

func serve(state *AppState, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	newRouter(state).ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRecognizeRawBody(t *testing.T) {
	state, sink := newTestState(&fakeRecognizer{result: foundResult()})

	req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(pngBytes(t)))
	req.Header.Set("Content-Type", "image/png")
	rec := serve(state, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[RecognizeResponse](t, rec)
	assert.Equal(t, "51G12345", resp.Plate)
	assert.Equal(t, "crop", resp.Backend)
	assert.Equal(t, MsgPlateFound, resp.Message)
	require.NotNil(t, resp.Region)
	assert.Equal(t, float32(100), resp.Region.Width)
	assert.NotEmpty(t, resp.RequestID)

	reads := sink.Reads()
	require.Len(t, reads, 1)
	assert.Equal(t, resp.RequestID, reads[0].ID)
	assert.Equal(t, "http", reads[0].Source)
}

func TestRecognizeMultipart(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{result: foundResult()})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "car.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/recognize", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(state, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "51G12345", decodeBody[RecognizeResponse](t, rec).Plate)
}

func TestRecognizeJSON(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{result: foundResult()})
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t))

	for name, img := range map[string]string{
		"plain":    encoded,
		"data url": "data:image/png;base64," + encoded,
	} {
		t.Run(name, func(t *testing.T) {
			payload, _ := json.Marshal(map[string]string{"image": img})
			req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
			rec := serve(state, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "51G12345", decodeBody[RecognizeResponse](t, rec).Plate)
		})
	}
}

func TestRecognizeNoPlate(t *testing.T) {
	state, sink := newTestState(&fakeRecognizer{result: recognizer.Result{Backend: "crop"}})

	req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(pngBytes(t)))
	rec := serve(state, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[RecognizeResponse](t, rec)
	assert.Equal(t, recognizer.Unknown, resp.Plate)
	assert.Equal(t, MsgNoPlate, resp.Message)
	assert.Nil(t, resp.Region)
	assert.Empty(t, sink.Reads())
}

func TestRecognizeInvalidInput(t *testing.T) {
	fake := &fakeRecognizer{result: foundResult()}
	state, _ := newTestState(fake)

	tests := []struct {
		name        string
		body        []byte
		contentType string
		code        string
	}{
		{"empty body", nil, "image/jpeg", "invalid_request"},
		{"bad json", []byte("{"), "application/json", "invalid_request"},
		{"bad base64", []byte(`{"image":"***"}`), "application/json", "invalid_request"},
		{"not an image", []byte("hello"), "application/octet-stream", "invalid_image"},
		{"missing file field", []byte("--x--\r\n"), "multipart/form-data; boundary=x", "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := serve(state, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
	assert.Zero(t, fake.Calls())
}

func TestRejectsEmptyFrame(t *testing.T) {
	fake := &fakeRecognizer{result: foundResult()}
	state, sink := newTestState(fake)
	state.Detector = &fakeDetector{ok: true}

	for _, path := range []string{"/recognize", "/detect"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(zeroWidthJPEG(t)))
		req.Header.Set("Content-Type", "image/jpeg")
		rec := serve(state, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid_image", decodeBody[ErrorResponse](t, rec).Code, path)
	}
	assert.Zero(t, fake.Calls())
	assert.Zero(t, state.Detector.(*fakeDetector).calls)
	assert.Empty(t, sink.Reads())
}

func TestRecognizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"pool exhausted", fmt.Errorf("detect plate: %w", detections.ErrAcquireTimeout), http.StatusServiceUnavailable, "session_error"},
		{"pool closed", detections.ErrPoolClosed, http.StatusServiceUnavailable, "session_error"},
		{"empty frame", fmt.Errorf("detect plate: %w", detections.ErrEmptyImage), http.StatusBadRequest, "invalid_image"},
		{"inference", &detections.ProcessingError{Message: "model inference", Cause: errors.New("ort")}, http.StatusInternalServerError, "processing_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, sink := newTestState(&fakeRecognizer{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(pngBytes(t)))
			rec := serve(state, req)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Contains(t, resp.Details, tt.err.Error())
			assert.Empty(t, sink.Reads())
		})
	}
}

func TestRecognizeSinkFailureStillResponds(t *testing.T) {
	state, sink := newTestState(&fakeRecognizer{result: foundResult()})
	sink.err = errors.New("db down")

	req := httptest.NewRequest(http.MethodPost, "/recognize", bytes.NewReader(pngBytes(t)))
	rec := serve(state, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sink.Reads(), 1)
}

func TestDetect(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})
	best := detections.Plate{Confidence: 0.9, Region: detections.CropRegion{X: 1, Y: 2, Width: 30, Height: 10}}
	detector := &fakeDetector{
		all: []detections.Plate{best, {Confidence: 0.6}},
	}
	state.Detector = detector

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t)))
	rec := serve(state, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[DetectResponse](t, rec)
	assert.True(t, resp.Found)
	require.NotNil(t, resp.Best)
	assert.Equal(t, best.Region, resp.Best.Region)
	assert.Len(t, resp.Candidates, 2)
	assert.Equal(t, 1, detector.calls, "one inference per request")
}

func TestDetectNothingFound(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})
	state.Detector = &fakeDetector{}

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t)))
	rec := serve(state, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[DetectResponse](t, rec)
	assert.False(t, resp.Found)
	assert.Nil(t, resp.Best)
	assert.NotNil(t, resp.Candidates)
}

func TestDetectWithoutDetector(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(pngBytes(t)))
	rec := serve(state, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestReads(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})
	store := &fakeStore{reads: []handoff.Read{{ID: "a", Plate: "51G12345"}}}
	state.Reads = store

	rec := serve(state, httptest.NewRequest(http.MethodGet, "/reads", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultReadsLimit, store.lastLimit)
	reads := decodeBody[[]handoff.Read](t, rec)
	require.Len(t, reads, 1)
	assert.Equal(t, "51G12345", reads[0].Plate)

	rec = serve(state, httptest.NewRequest(http.MethodGet, "/reads?limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxReadsLimit, store.lastLimit)

	rec = serve(state, httptest.NewRequest(http.MethodGet, "/reads?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.err = errors.New("timeout")
	rec = serve(state, httptest.NewRequest(http.MethodGet, "/reads", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReadsWithoutDatabase(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})

	rec := serve(state, httptest.NewRequest(http.MethodGet, "/reads", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})
	state.Stream.accepted.Add(3)

	rec := serve(state, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decodeBody[map[string]json.RawMessage](t, rec)
	assert.Contains(t, metrics, "cpu_features")
	assert.NotContains(t, metrics, "pool")
	var stream StreamStats
	require.NoError(t, json.Unmarshal(metrics["stream"], &stream))
	assert.Equal(t, int64(3), stream.Accepted)

	rec = serve(state, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestRecognizeMethodNotAllowed(t *testing.T) {
	state, _ := newTestState(&fakeRecognizer{})

	rec := serve(state, httptest.NewRequest(http.MethodGet, "/recognize", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
