// Package handoff delivers recognized plates to the downstream "add car"
// workflow.
package handoff

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Read is one recognized plate handed downstream.
type Read struct {
	ID         string    `json:"id"`
	Plate      string    `json:"plate"`
	Confidence float32   `json:"confidence"`
	Backend    string    `json:"backend"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

type Sink interface {
	Deliver(ctx context.Context, read Read) error
}

// LogSink writes reads to the service log.
type LogSink struct {
	Logger log.FieldLogger
}

func (s LogSink) Deliver(_ context.Context, read Read) error {
	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithFields(log.Fields{
		"read_id":    read.ID,
		"plate":      read.Plate,
		"confidence": read.Confidence,
		"backend":    read.Backend,
		"source":     read.Source,
	}).Info("plate handed off")
	return nil
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, read Read) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, read); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
