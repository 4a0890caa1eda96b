// Package throttle schedules per-frame work from a camera stream: at most
// one job in flight, at most a configured number of jobs per second, and
// everything else dropped.
package throttle

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Handler processes one accepted frame.
type Handler[T any] func(ctx context.Context, item T)

type Worker[T any] struct {
	limiter *rate.Limiter
	handle  Handler[T]

	busy atomic.Bool
	wg   sync.WaitGroup

	accepted atomic.Int64
	dropped  atomic.Int64
}

// Stats are the worker's frame counters.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Dropped  int64 `json:"dropped"`
	Busy     bool  `json:"busy"`
}

// NewWorker runs handle at most perSecond times per second with the given
// burst. A non-positive perSecond disables rate limiting.
func NewWorker[T any](perSecond float64, burst int, handle Handler[T]) *Worker[T] {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Worker[T]{
		limiter: rate.NewLimiter(limit, burst),
		handle:  handle,
	}
}

// Offer starts handling item in the background when the worker is idle and
// the rate allows it. It reports whether the item was accepted.
func (w *Worker[T]) Offer(ctx context.Context, item T) bool {
	if !w.busy.CompareAndSwap(false, true) {
		w.dropped.Add(1)
		return false
	}
	if !w.limiter.Allow() {
		w.busy.Store(false)
		w.dropped.Add(1)
		return false
	}

	w.accepted.Add(1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.busy.Store(false)
		w.handle(ctx, item)
	}()
	return true
}

// Wait blocks until the in-flight job, if any, has finished.
func (w *Worker[T]) Wait() {
	w.wg.Wait()
}

func (w *Worker[T]) Stats() Stats {
	return Stats{
		Accepted: w.accepted.Load(),
		Dropped:  w.dropped.Load(),
		Busy:     w.busy.Load(),
	}
}
