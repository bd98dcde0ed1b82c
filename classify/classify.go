package classify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/image-scan-service/models"

	"github.com/disintegration/imaging"
)

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Result is one ranked inference run.
type Result struct {
	Predictions   []models.Prediction `json:"predictions"`
	LabelMismatch bool                `json:"label_mismatch"`
}

// Classifier is a loaded model: runtime sessions, input geometry and labels.
type Classifier struct {
	pool         *SessionPool
	labels       []string
	spec         InputSpec
	preprocessor *Preprocessor
}

func NewClassifier(pool *SessionPool, labels []string, spec InputSpec) *Classifier {
	return &Classifier{
		pool:         pool,
		labels:       append([]string(nil), labels...),
		spec:         spec,
		preprocessor: NewPreprocessor(spec),
	}
}

func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

func (c *Classifier) Spec() InputSpec {
	return c.spec
}

func (c *Classifier) Pool() *SessionPool {
	return c.pool
}

func (c *Classifier) Close() {
	c.pool.Destroy()
}

// Classify runs img through the model, retrying transient runtime failures.
func (c *Classifier) Classify(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (*Result, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := c.classifyOnce(ctx, img, timings)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if attempt < RetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * RetryDelayMs * time.Millisecond):
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unknown error")
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrPoolClosed)
}

func (c *Classifier) classifyOnce(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (*Result, error) {
	resizeStart := time.Now()
	resized := imaging.Resize(img, c.spec.Width, c.spec.Height, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	buffer, err := c.preprocessor.Process(resized)
	if err != nil {
		return nil, &ProcessingError{Message: "prepare input buffer", Cause: err}
	}
	defer c.preprocessor.Release(buffer)
	timings.Preprocess = time.Since(prepStart)

	session, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, &ProcessingError{Message: "acquire session", Cause: err}
	}

	inferStart := time.Now()
	scores, err := session.Run(buffer.Data)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		c.pool.Discard(session)
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	c.pool.Release(session)

	if len(scores) == 0 {
		return nil, &ProcessingError{Message: "model returned an empty output"}
	}

	postStart := time.Now()
	predictions, mismatch := Rank(scores, c.labels)
	timings.Postprocess = time.Since(postStart)

	return &Result{
		Predictions:   predictions,
		LabelMismatch: mismatch,
	}, nil
}
