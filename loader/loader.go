// Package loader owns the model lifecycle: one asynchronous load at startup,
// a visible failure state, and an explicit retry.
package loader

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Tutortoise/image-scan-service/classify"
)

type State string

const (
	StateNotLoaded State = "not_loaded"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

var (
	ErrLoadInProgress = errors.New("model load already in progress")
	ErrAlreadyLoaded  = errors.New("model already loaded")
	ErrClosed         = errors.New("loader closed")
)

// Factory builds a classifier. It must honour ctx.
type Factory func(ctx context.Context) (*classify.Classifier, error)

type Status struct {
	State    State      `json:"state"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

func (s Status) Ready() bool {
	return s.State == StateReady
}

type Loader struct {
	factory Factory
	timeout time.Duration

	mu         sync.Mutex
	state      State
	err        error
	attempts   int
	loadedAt   time.Time
	classifier *classify.Classifier
	done       chan struct{}
	closed     bool
}

// New returns a loader in the not_loaded state. A zero timeout means loads
// are bounded only by the context passed to Start.
func New(factory Factory, timeout time.Duration) *Loader {
	done := make(chan struct{})
	close(done)
	return &Loader{
		factory: factory,
		timeout: timeout,
		state:   StateNotLoaded,
		done:    done,
	}
}

// Start begins a load in the background unless one is running or the model
// is already ready.
func (l *Loader) Start(ctx context.Context) {
	if err := l.begin(ctx); err != nil && !errors.Is(err, ErrLoadInProgress) && !errors.Is(err, ErrAlreadyLoaded) {
		log.Printf("Model load not started: %v", err)
	}
}

// Reload retries after a failure.
func (l *Loader) Reload(ctx context.Context) error {
	return l.begin(ctx)
}

func (l *Loader) begin(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return ErrClosed
	case l.state == StateLoading:
		return ErrLoadInProgress
	case l.state == StateReady:
		return ErrAlreadyLoaded
	}

	l.state = StateLoading
	l.err = nil
	l.attempts++
	l.done = make(chan struct{})

	go l.load(context.WithoutCancel(ctx), l.done)
	return nil
}

func (l *Loader) load(ctx context.Context, done chan struct{}) {
	defer close(done)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	log.Printf("Loading model (attempt %d)", l.Attempts())

	classifier, err := l.factory(ctx)
	if err == nil && ctx.Err() != nil {
		classifier.Close()
		err = ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.state = StateFailed
		l.err = err
		log.Printf("Failed to load model: %v", err)
		return
	}
	if l.closed {
		classifier.Close()
		l.state = StateNotLoaded
		return
	}

	l.state = StateReady
	l.classifier = classifier
	l.loadedAt = time.Now()
	log.Printf("Model loaded in %v", time.Since(start))
}

// Wait blocks until the current load attempt has finished.
func (l *Loader) Wait(ctx context.Context) Status {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return l.Status()
}

// Classifier returns the loaded model, or nil with the current status.
func (l *Loader) Classifier() (*classify.Classifier, Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classifier, l.statusLocked()
}

func (l *Loader) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Loader) statusLocked() Status {
	s := Status{State: l.state, Attempts: l.attempts}
	if l.err != nil {
		s.Error = l.err.Error()
	}
	if !l.loadedAt.IsZero() {
		t := l.loadedAt
		s.LoadedAt = &t
	}
	return s
}

// Close destroys the loaded classifier. An in-flight load is discarded when it
// completes.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	if l.classifier != nil {
		l.classifier.Close()
		l.classifier = nil
	}
}
