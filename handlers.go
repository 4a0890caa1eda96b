package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/Tutortoise/plate-recognition-service/handoff"
	"github.com/Tutortoise/plate-recognition-service/models"
	"github.com/Tutortoise/plate-recognition-service/recognizer"
)

const (
	maxUploadSize     = 10 << 20
	defaultReadsLimit = 20
	maxReadsLimit     = 100
)

type RecognizeResponse struct {
	RequestID  string                 `json:"request_id"`
	Plate      string                 `json:"plate"`
	Confidence float32                `json:"confidence"`
	Backend    string                 `json:"backend"`
	Region     *detections.CropRegion `json:"region,omitempty"`
	Message    string                 `json:"message"`
}

type DetectResponse struct {
	Found      bool               `json:"found"`
	Best       *detections.Plate  `json:"best,omitempty"`
	Candidates []detections.Plate `json:"candidates"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func logTimings(t *models.ProcessingTimings) {
	log.WithFields(log.Fields{
		"request_id":   t.RequestID,
		"image_decode": t.ImageDecode,
		"preprocess":   t.Preprocess,
		"inference":    t.Inference,
		"postprocess":  t.Postprocess,
		"ocr":          t.OCR,
		"total":        t.Total,
	}).Debug("processing times")
}

func handleRecognize(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		timings := &models.ProcessingTimings{RequestID: uuid.NewString()}
		ctx := models.WithTimings(r.Context(), timings)

		img, ok := readRequestImage(w, r, timings)
		if !ok {
			return
		}

		result, err := state.Recognizer.Recognize(ctx, img)
		if err != nil {
			log.WithError(err).WithField("request_id", timings.RequestID).Error("recognition failed")
			sendProcessingError(w, err)
			return
		}

		timings.Total = time.Since(startTotal)
		logTimings(timings)

		response := RecognizeResponse{
			RequestID: timings.RequestID,
			Plate:     recognizer.Unknown,
			Backend:   result.Backend,
			Message:   MsgNoPlate,
		}
		if result.Found() {
			response.Plate = result.Plate
			response.Confidence = result.Confidence
			response.Region = result.Region
			response.Message = MsgPlateFound
			state.handOff(ctx, timings.RequestID, result, "http")
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state.Detector == nil {
			sendErrorResponse(w, "not_available", "Plate detection is not enabled for the remote recognizer", http.StatusNotImplemented)
			return
		}

		timings := &models.ProcessingTimings{RequestID: uuid.NewString()}
		ctx := models.WithTimings(r.Context(), timings)

		img, ok := readRequestImage(w, r, timings)
		if !ok {
			return
		}

		candidates, err := state.Detector.DetectAll(ctx, img)
		if err != nil {
			sendProcessingError(w, err)
			return
		}

		response := DetectResponse{Found: len(candidates) > 0, Candidates: candidates}
		if response.Found {
			response.Best = &candidates[0]
		}
		if response.Candidates == nil {
			response.Candidates = []detections.Plate{}
		}
		writeJSON(w, http.StatusOK, response)
	}
}

func handleReads(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state.Reads == nil {
			sendErrorResponse(w, "not_available", "No database is configured", http.StatusNotFound)
			return
		}

		limit := defaultReadsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				sendErrorResponse(w, "invalid_request", "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxReadsLimit)
		}

		reads, err := state.Reads.Recent(r.Context(), limit)
		if err != nil {
			log.WithError(err).Error("failed to list reads")
			sendErrorResponse(w, "storage_error", "Failed to list reads", http.StatusInternalServerError)
			return
		}
		if reads == nil {
			reads = []handoff.Read{}
		}
		writeJSON(w, http.StatusOK, reads)
	}
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"recognizer":   s.Recognizer.Name(),
		"stream":       s.Stream.snapshot(),
		"cpu_features": detections.CPUFeatures(),
	}
	if s.Pool != nil {
		response["pool"] = s.Pool.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"recognizer": s.Recognizer.Name(),
	})
}

// handOff passes a recognized plate downstream. Sink failures are logged
// and never fail the request.
func (s *AppState) handOff(ctx context.Context, id string, result recognizer.Result, source string) {
	if s.Sink == nil {
		return
	}
	read := handoff.Read{
		ID:         id,
		Plate:      result.Plate,
		Confidence: result.Confidence,
		Backend:    result.Backend,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Sink.Deliver(ctx, read); err != nil {
		log.WithError(err).WithField("read_id", id).Warn("plate hand-off failed")
	}
}

// readRequestImage extracts and decodes the frame, writing a 400 on failure.
func readRequestImage(w http.ResponseWriter, r *http.Request, timings *models.ProcessingTimings) (image.Image, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	contentType := r.Header.Get("Content-Type")
	var imgBytes []byte
	var err error

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		imgBytes, err = handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err == nil && len(imgBytes) == 0 {
		err = errors.New("empty image payload")
	}
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return nil, false
	}

	decodeStart := time.Now()
	img, err := decodeImage(imgBytes)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return nil, false
	}
	return img, true
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	// accept data URLs as sent by browser canvases
	if i := strings.Index(req.Image, ","); i >= 0 && strings.HasPrefix(req.Image, "data:") {
		req.Image = req.Image[i+1:]
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

// decodeImage rejects frames without pixels; a JPEG may declare a zero
// width and still decode cleanly.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, detections.ErrEmptyImage
	}
	return img, nil
}

func sendProcessingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, detections.ErrEmptyImage):
		sendError(w, "invalid_image", "Failed to decode image", err.Error(), http.StatusBadRequest)
	case errors.Is(err, detections.ErrAcquireTimeout), errors.Is(err, detections.ErrPoolClosed):
		sendError(w, "session_error", MsgBusy, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		sendError(w, "canceled", MsgProcessingFailed, err.Error(), http.StatusServiceUnavailable)
	default:
		sendError(w, "processing_error", MsgProcessingFailed, err.Error(), http.StatusInternalServerError)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendError(w, code, message, "", status)
}

func sendError(w http.ResponseWriter, code, message, details string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}
