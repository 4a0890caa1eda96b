package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/Tutortoise/plate-recognition-service/config"
	"github.com/Tutortoise/plate-recognition-service/detections"
	"github.com/Tutortoise/plate-recognition-service/handoff"
	"github.com/Tutortoise/plate-recognition-service/ocr"
	"github.com/Tutortoise/plate-recognition-service/ocr/tesseract"
	"github.com/Tutortoise/plate-recognition-service/recognizer"
)

type AppState struct {
	Config     *config.Config
	Recognizer recognizer.Recognizer
	Detector   detections.Detector
	Pool       *detections.SessionPool
	Sink       handoff.Sink
	Reads      readStore
	Stream     *streamMetrics
}

// readStore lists handed-off plates; only set when a database is configured.
type readStore interface {
	Recent(ctx context.Context, limit int) ([]handoff.Read, error)
}

func setupLogging(debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	if debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
	}
}

// newDetector starts onnxruntime and the session pool behind the plate model.
func newDetector(cfg *config.Config) (*detections.OnnxDetector, *detections.SessionPool, error) {
	libPath, modelPath, err := resolveRuntimeFiles(cfg.ModelPath, cfg.OrtLibPath)
	if err != nil {
		return nil, nil, err
	}
	if err := detections.InitEnvironment(libPath); err != nil {
		return nil, nil, err
	}

	modelCfg := detections.ModelConfig{
		Path:             modelPath,
		InputSize:        cfg.ModelInputSize,
		NumCandidates:    cfg.ModelCandidates,
		NormalizedOutput: cfg.ModelNormalizedOutput,
	}
	pool, err := detections.NewSessionPool(func() (*detections.ModelSession, error) {
		return detections.NewModelSession(modelCfg)
	}, cfg.PoolSize)
	if err != nil {
		detections.DestroyEnvironment()
		return nil, nil, err
	}

	return detections.NewOnnxDetector(pool, modelCfg, cfg.ConfThreshold), pool, nil
}

func newReader(ctx context.Context, cfg *config.Config) (ocr.Reader, error) {
	switch cfg.OCREngine {
	case config.OCRRekognition:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		return ocr.NewRekognitionReader(rekognition.NewFromConfig(awsCfg)), nil
	case config.OCRTesseract:
		return tesseract.NewReader(cfg.TesseractLang), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine: %s", cfg.OCREngine)
	}
}

// newSink always logs hand-offs and also stores them when a database is set.
func newSink(ctx context.Context, cfg *config.Config) (handoff.MultiSink, *handoff.PostgresSink, error) {
	sinks := handoff.MultiSink{handoff.LogSink{Logger: log.StandardLogger()}}
	if cfg.DatabaseURL == "" {
		return sinks, nil, nil
	}

	db, err := handoff.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := handoff.NewPostgresSink(db)
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return append(sinks, pg), pg, nil
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/recognize", handleRecognize(state)).Methods("POST")
	r.HandleFunc("/detect", handleDetect(state)).Methods("POST")
	r.HandleFunc("/reads", handleReads(state)).Methods("GET")
	r.HandleFunc("/ws/frames", handleFrames(state)).Methods("GET")
	state.addMonitoringRoutes(r)
	return r
}

func main() {
	cfg := config.Load()
	setupLogging(cfg.Debug)
	ctx := context.Background()

	state := &AppState{Config: cfg, Stream: &streamMetrics{}}

	deps := recognizer.Deps{}
	if cfg.Recognizer != config.RecognizerRemote {
		detector, pool, err := newDetector(cfg)
		if err != nil {
			log.Fatalf("Failed to start plate detector: %v", err)
		}
		defer detections.DestroyEnvironment()
		defer pool.Destroy()
		state.Detector, state.Pool = detector, pool

		reader, err := newReader(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to create OCR reader: %v", err)
		}
		deps.Detector, deps.Reader = detector, reader
	}

	rec, err := recognizer.New(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to create recognizer: %v", err)
	}
	defer rec.Close()
	state.Recognizer = rec

	sink, store, err := newSink(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up plate hand-off: %v", err)
	}
	state.Sink = sink
	if store != nil {
		defer store.Close()
		state.Reads = store
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.ServerAddr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":       srv.Addr,
			"recognizer": rec.Name(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Forced shutdown: %v", err)
	}
}
