package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/Tutortoise/plate-recognition-service/models"
	"github.com/Tutortoise/plate-recognition-service/recognizer"
	"github.com/Tutortoise/plate-recognition-service/throttle"
)

const (
	writeWait    = 10 * time.Second
	resetCommand = "reset"
)

// Event types pushed to stream clients.
const (
	eventNoPlate = "no_plate"
	eventPlate   = "plate"
	eventError   = "error"
	eventReady   = "ready"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type frameEvent struct {
	Type       string                 `json:"type"`
	Plate      string                 `json:"plate,omitempty"`
	Confidence float32                `json:"confidence,omitempty"`
	Backend    string                 `json:"backend,omitempty"`
	Region     *detections.CropRegion `json:"region,omitempty"`
	Final      bool                   `json:"final,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

type streamMetrics struct {
	connections atomic.Int64
	accepted    atomic.Int64
	dropped     atomic.Int64
	plates      atomic.Int64
}

type StreamStats struct {
	Connections int64 `json:"connections"`
	Accepted    int64 `json:"frames_accepted"`
	Dropped     int64 `json:"frames_dropped"`
	Plates      int64 `json:"plates_found"`
}

func (m *streamMetrics) snapshot() StreamStats {
	return StreamStats{
		Connections: m.connections.Load(),
		Accepted:    m.accepted.Load(),
		Dropped:     m.dropped.Load(),
		Plates:      m.plates.Load(),
	}
}

// frameSession scans one client's camera stream. Frames arrive faster than
// they can be recognized, so the worker drops whatever it cannot take, and
// the latch stops scanning once a plate was handed off.
type frameSession struct {
	state  *AppState
	conn   *websocket.Conn
	worker *throttle.Worker[[]byte]
	latch  throttle.Latch

	writeMu sync.Mutex
}

func handleFrames(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("failed to upgrade to websocket")
			return
		}

		s := &frameSession{state: state, conn: conn}
		s.worker = throttle.NewWorker[[]byte](state.Config.StreamFPS, state.Config.StreamBurst, s.handleFrame)
		s.serve()
	}
}

func (s *frameSession) serve() {
	metrics := s.state.Stream
	metrics.connections.Add(1)
	log.WithField("remote", s.conn.RemoteAddr().String()).Debug("stream client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.worker.Wait()
		s.conn.Close()
		metrics.connections.Add(-1)
		log.WithFields(log.Fields{
			"remote":   s.conn.RemoteAddr().String(),
			"accepted": s.worker.Stats().Accepted,
			"dropped":  s.worker.Stats().Dropped,
		}).Debug("stream client disconnected")
	}()

	s.conn.SetReadLimit(maxUploadSize)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("websocket read failed")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) != resetCommand {
				s.send(frameEvent{Type: eventError, Message: "unknown command"})
				continue
			}
			s.worker.Wait()
			s.latch.Reset()
			s.send(frameEvent{Type: eventReady})
		case websocket.BinaryMessage:
			if s.latch.Fired() || !s.worker.Offer(ctx, data) {
				metrics.dropped.Add(1)
				continue
			}
			metrics.accepted.Add(1)
		}
	}
}

func (s *frameSession) handleFrame(ctx context.Context, data []byte) {
	timings := &models.ProcessingTimings{RequestID: uuid.NewString()}
	ctx = models.WithTimings(ctx, timings)
	start := time.Now()

	img, err := decodeImage(data)
	timings.ImageDecode = time.Since(start)
	if err != nil {
		s.send(frameEvent{Type: eventError, Message: "Failed to decode image"})
		return
	}

	result, err := s.state.Recognizer.Recognize(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).WithField("request_id", timings.RequestID).Error("stream recognition failed")
		s.send(frameEvent{Type: eventError, Message: MsgProcessingFailed})
		return
	}
	timings.Total = time.Since(start)
	logTimings(timings)

	if !result.Found() {
		s.send(frameEvent{Type: eventNoPlate, Plate: recognizer.Unknown, Backend: result.Backend})
		return
	}
	if !s.latch.Fire() {
		return
	}

	s.state.Stream.plates.Add(1)
	s.state.handOff(ctx, timings.RequestID, result, "stream")
	s.send(frameEvent{
		Type:       eventPlate,
		Plate:      result.Plate,
		Confidence: result.Confidence,
		Backend:    result.Backend,
		Region:     result.Region,
		Final:      true,
		Message:    MsgPlateFound,
	})
}

func (s *frameSession) send(event frameEvent) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(event); err != nil {
		log.WithError(err).Debug("failed to write stream event")
	}
}
