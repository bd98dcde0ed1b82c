package loader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tutortoise/image-scan-service/classify"
)

func testClassifier(t *testing.T) *classify.Classifier {
	t.Helper()
	pool, err := classify.NewSessionPool(func() (classify.Runner, error) {
		return classify.RunnerFunc(func([]float32) ([]float32, error) { return []float32{1}, nil }), nil
	}, 1, time.Second)
	if err != nil {
		t.Fatalf("NewSessionPool: %v", err)
	}
	return classify.NewClassifier(pool, []string{"only"}, classify.DefaultInputSpec())
}

func waitFor(t *testing.T, l *Loader) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.Wait(ctx)
}

func TestLoaderStartsNotLoaded(t *testing.T) {
	l := New(func(context.Context) (*classify.Classifier, error) { return nil, errors.New("unused") }, 0)
	if s := l.Status(); s.State != StateNotLoaded || s.Attempts != 0 {
		t.Fatalf("unexpected initial status: %+v", s)
	}
	if c, _ := l.Classifier(); c != nil {
		t.Fatalf("expected no classifier before load")
	}
}

func TestLoaderReady(t *testing.T) {
	l := New(func(context.Context) (*classify.Classifier, error) { return testClassifier(t), nil }, time.Second)
	defer l.Close()

	l.Start(context.Background())
	s := waitFor(t, l)
	if !s.Ready() || s.LoadedAt == nil || s.Attempts != 1 {
		t.Fatalf("unexpected status: %+v", s)
	}
	if c, _ := l.Classifier(); c == nil {
		t.Fatalf("expected classifier")
	}

	if err := l.Reload(context.Background()); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("expected ErrAlreadyLoaded, got %v", err)
	}
}

func TestLoaderFailureThenRetry(t *testing.T) {
	var calls atomic.Int32
	l := New(func(context.Context) (*classify.Classifier, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("model file not found")
		}
		return testClassifier(t), nil
	}, time.Second)
	defer l.Close()

	l.Start(context.Background())
	s := waitFor(t, l)
	if s.State != StateFailed || s.Error != "model file not found" {
		t.Fatalf("expected failed status with reason, got %+v", s)
	}
	if c, status := l.Classifier(); c != nil || status.State != StateFailed {
		t.Fatalf("expected no classifier after failure")
	}

	if err := l.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	s = waitFor(t, l)
	if !s.Ready() || s.Error != "" || s.Attempts != 2 {
		t.Fatalf("expected ready after retry, got %+v", s)
	}
}

func TestLoaderRejectsConcurrentLoad(t *testing.T) {
	release := make(chan struct{})
	l := New(func(ctx context.Context) (*classify.Classifier, error) {
		<-release
		return testClassifier(t), nil
	}, 0)
	defer l.Close()

	l.Start(context.Background())
	if s := l.Status(); s.State != StateLoading {
		t.Fatalf("expected loading, got %s", s.State)
	}
	if err := l.Reload(context.Background()); !errors.Is(err, ErrLoadInProgress) {
		t.Fatalf("expected ErrLoadInProgress, got %v", err)
	}

	close(release)
	if s := waitFor(t, l); !s.Ready() {
		t.Fatalf("expected ready, got %+v", s)
	}
}

func TestLoaderTimeout(t *testing.T) {
	l := New(func(ctx context.Context) (*classify.Classifier, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 20*time.Millisecond)
	defer l.Close()

	l.Start(context.Background())
	s := waitFor(t, l)
	if s.State != StateFailed || s.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("expected timeout failure, got %+v", s)
	}
}

func TestLoaderCloseDiscardsLateLoad(t *testing.T) {
	release := make(chan struct{})
	l := New(func(context.Context) (*classify.Classifier, error) {
		<-release
		return testClassifier(t), nil
	}, 0)

	l.Start(context.Background())
	l.Close()
	close(release)
	waitFor(t, l)

	if c, _ := l.Classifier(); c != nil {
		t.Fatalf("expected classifier discarded after close")
	}
	if err := l.Reload(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
