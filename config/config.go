package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Recognizer backends selectable with RECOGNIZER.
const (
	RecognizerRemote = "remote"
	RecognizerFrame  = "frame"
	RecognizerCrop   = "crop"
)

// OCR engines selectable with OCR_ENGINE.
const (
	OCRTesseract   = "tesseract"
	OCRRekognition = "rekognition"
)

type Config struct {
	ServerAddr string
	Debug      bool

	Recognizer string
	OCREngine  string

	ModelPath             string
	OrtLibPath            string
	ModelInputSize        int
	ModelCandidates       int
	ModelNormalizedOutput bool
	ConfThreshold         float32
	PoolSize              int

	RemoteURL     string
	RemoteTimeout time.Duration

	AWSRegion     string
	TesseractLang string
	PlatePattern  string

	StreamFPS   float64
	StreamBurst int

	DatabaseURL string
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Warnf("could not load .env file: %v", err)
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		Debug:      getBool("DEBUG", false),

		Recognizer: getEnv("RECOGNIZER", RecognizerCrop),
		OCREngine:  getEnv("OCR_ENGINE", OCRTesseract),

		ModelPath:             getEnv("MODEL_PATH", "models/plate_yolov8n_640.onnx"),
		OrtLibPath:            getEnv("ORT_LIB_PATH", ""),
		ModelInputSize:        getInt("MODEL_INPUT_SIZE", 640),
		ModelCandidates:       getInt("MODEL_CANDIDATES", 8400),
		ModelNormalizedOutput: getBool("MODEL_NORMALIZED_OUTPUT", false),
		ConfThreshold:         float32(getFloat("CONF_THRESHOLD", 0.5)),
		PoolSize:              getInt("POOL_SIZE", 4),

		RemoteURL:     getEnv("REMOTE_URL", "http://127.0.0.1:5000/recognize"),
		RemoteTimeout: getDuration("REMOTE_TIMEOUT", 15*time.Second),

		AWSRegion:     getEnv("AWS_REGION", "ap-southeast-1"),
		TesseractLang: getEnv("TESSERACT_LANG", "eng"),
		PlatePattern:  getEnv("PLATE_PATTERN", ""),

		StreamFPS:   getFloat("STREAM_FPS", 2),
		StreamBurst: getInt("STREAM_BURST", 1),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Debugf("env %s not set, using default %q", key, fallback)
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		log.Warnf("invalid integer for %s, using %d", key, fallback)
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64)), 64)
	if err != nil {
		log.Warnf("invalid number for %s, using %v", key, fallback)
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		log.Warnf("invalid boolean for %s, using %v", key, fallback)
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		log.Warnf("invalid duration for %s, using %v", key, fallback)
		return fallback
	}
	return v
}
