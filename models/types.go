package models

import (
	"context"
	"time"
)

// ProcessingTimings records per-stage latency of one recognition request.
type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	OCR         time.Duration
	Total       time.Duration
}

type timingsKey struct{}

// WithTimings attaches t to ctx so recognizer stages can record into it.
func WithTimings(ctx context.Context, t *ProcessingTimings) context.Context {
	return context.WithValue(ctx, timingsKey{}, t)
}

// TimingsFrom returns the timings attached to ctx, or a throwaway value.
func TimingsFrom(ctx context.Context) *ProcessingTimings {
	if t, ok := ctx.Value(timingsKey{}).(*ProcessingTimings); ok && t != nil {
		return t
	}
	return &ProcessingTimings{}
}
