package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// SessionFactory builds one model session for the pool.
type SessionFactory func() (*ModelSession, error)

type SessionPool struct {
	sessions   chan *ModelSession
	size       int
	factory    SessionFactory
	mu         sync.Mutex
	closed     bool
	checkedOut int
	done       chan struct{}
	metrics    *poolMetrics
	lastErrors []error
}

type poolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time copy of the pool counters.
type PoolStats struct {
	Size            int           `json:"pool_size"`
	Idle            int           `json:"sessions_idle"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	RecentErrors    int           `json:"recent_errors"`
}

func NewSessionPool(factory SessionFactory, size int) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool{
		sessions: make(chan *ModelSession, size),
		size:     size,
		factory:  factory,
		done:     make(chan struct{}),
		metrics:  &poolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *SessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.checkedOut++
		p.mu.Unlock()

		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session *ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedOut--
	if p.closed {
		session.Destroy()
		return
	}
	select {
	case p.sessions <- session:
	default:
		// a replacement already filled the slot
		session.Destroy()
	}
}

// Discard drops a session that failed inference; the health check replaces it.
func (p *SessionPool) Discard(session *ModelSession, cause error) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.mu.Unlock()

	p.mu.Lock()
	p.checkedOut--
	p.mu.Unlock()

	p.recordError(cause)
	session.Destroy()
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish recreates sessions lost through Discard.
func (p *SessionPool) replenish() {
	p.mu.Lock()
	missing := p.size - len(p.sessions) - p.checkedOut
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			log.WithError(err).Warn("failed to replenish model session")
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		select {
		case p.sessions <- session:
		default:
			session.Destroy()
		}
		p.mu.Unlock()
	}
}

func (p *SessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *SessionPool) Stats() PoolStats {
	p.metrics.mu.RLock()
	stats := PoolStats{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	stats.Idle = len(p.sessions)
	stats.RecentErrors = len(p.lastErrors)
	p.mu.Unlock()
	return stats
}
