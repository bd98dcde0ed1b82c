package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize       = 4
	DefaultAcquireTimeout = 5 * time.Second
	HealthCheckPeriod     = 60 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// Runner executes the model on one preprocessed input and returns the raw
// output vector. Implementations own whatever native resources they need.
type Runner interface {
	Run(input []float32) ([]float32, error)
	Destroy()
}

type RunnerFactory func() (Runner, error)

// RunnerFunc adapts a plain function to a Runner with nothing to destroy.
type RunnerFunc func(input []float32) ([]float32, error)

func (f RunnerFunc) Run(input []float32) ([]float32, error) {
	return f(input)
}

func (f RunnerFunc) Destroy() {}

type SessionPool struct {
	sessions       chan Runner
	size           int
	factory        RunnerFactory
	acquireTimeout time.Duration
	mu             sync.Mutex
	closed         bool
	live           int
	stop           chan struct{}
	metrics        *PoolMetrics
	lastErrors     []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	discarded       int64
	waitTime        time.Duration
}

// PoolSnapshot is a point-in-time copy of the pool counters.
type PoolSnapshot struct {
	Size            int           `json:"pool_size"`
	Available       int           `json:"sessions_available"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	Discarded       int64         `json:"discarded"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

func NewSessionPool(factory RunnerFactory, size int, acquireTimeout time.Duration) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &SessionPool{
		sessions:       make(chan Runner, size),
		size:           size,
		factory:        factory,
		acquireTimeout: acquireTimeout,
		stop:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}

	// Initialize sessions
	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *SessionPool) Size() int {
	return p.size
}

func (p *SessionPool) Acquire(ctx context.Context) (Runner, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session := <-p.sessions:
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
	case <-p.stop:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session Runner) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.live--
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that failed mid-run and replaces it right away.
// If the replacement cannot be built, the health check keeps trying.
func (p *SessionPool) Discard(session Runner) {
	session.Destroy()

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.discarded++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()

	p.replenishSessions()
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)

	for {
		select {
		case session := <-p.sessions:
			p.live--
			session.Destroy()
		default:
			return
		}
	}
}

func (p *SessionPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenishSessions()
		}
	}
}

func (p *SessionPool) replenishSessions() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed || p.live >= p.size {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
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

// LastErrors returns the most recent session construction failures.
func (p *SessionPool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.lastErrors...)
}

func (p *SessionPool) GetMetrics() PoolSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolSnapshot{
		Size:            p.size,
		Available:       len(p.sessions),
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		Discarded:       p.metrics.discarded,
		WaitTime:        p.metrics.waitTime,
	}
}
