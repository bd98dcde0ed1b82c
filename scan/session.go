// Package scan holds per-user scan state: the picked image, the last
// predictions, and the guard that keeps one inference running per session.
package scan

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/image-scan-service/classify"
	"github.com/Tutortoise/image-scan-service/loader"
	"github.com/Tutortoise/image-scan-service/models"
)

type State string

const (
	StateEmpty       State = "empty"
	StateImagePicked State = "image_picked"
	StatePredicted   State = "predicted"
)

type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeNotReady   Outcome = "not_ready"
	OutcomeLoadFailed Outcome = "load_failed"
	OutcomeNoImage    Outcome = "no_image"
	OutcomeBusy       Outcome = "busy"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeError      Outcome = "error"
)

// Result reports what an inference request did.
type Result struct {
	Outcome       Outcome             `json:"outcome"`
	Reason        string              `json:"reason,omitempty"`
	Predictions   []models.Prediction `json:"predictions,omitempty"`
	LabelMismatch bool                `json:"label_mismatch,omitempty"`
}

// ModelProvider hands out the current classifier and the loader status.
type ModelProvider interface {
	Classifier() (*classify.Classifier, loader.Status)
}

// Image is the picked upload, kept until the next pick.
type Image struct {
	Filename    string
	ContentType string
	Format      string
	Data        []byte
	Width       int
	Height      int
	decoded     *classify.DecodedImage
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID            string              `json:"id"`
	State         State               `json:"state"`
	Image         *ImageInfo          `json:"image,omitempty"`
	Predictions   []models.Prediction `json:"predictions"`
	LabelMismatch bool                `json:"label_mismatch,omitempty"`
	InFlight      bool                `json:"in_flight"`
}

type ImageInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Format      string `json:"format"`
	Size        int    `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type Session struct {
	ID string

	mu          sync.Mutex
	state       State
	image       *Image
	predictions []models.Prediction
	mismatch    bool
	generation  uint64
	touched     time.Time

	inFlight atomic.Bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:      id,
		state:   StateEmpty,
		touched: now,
	}
}

// Intake replaces the session image. Stale predictions are cleared so they
// never show against the new picture. Bad uploads leave the session as it was.
func (s *Session) Intake(filename string, data []byte) (*ImageInfo, error) {
	decoded, err := classify.DecodeImage(data)
	if err != nil {
		return nil, err
	}

	b := decoded.Image.Bounds()
	img := &Image{
		Filename:    filename,
		ContentType: decoded.ContentType,
		Format:      decoded.Format,
		Data:        data,
		Width:       b.Dx(),
		Height:      b.Dy(),
		decoded:     decoded,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.image = img
	s.predictions = nil
	s.mismatch = false
	s.generation++
	s.state = StateImagePicked
	s.touched = time.Now()

	return img.info(), nil
}

// Image returns the current picture, if any.
func (s *Session) Image() (*Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image, s.image != nil
}

// Infer classifies the current image. At most one call runs per session;
// overlapping calls get OutcomeBusy.
func (s *Session) Infer(ctx context.Context, provider ModelProvider, timings *models.ProcessingTimings) Result {
	classifier, status := provider.Classifier()
	if classifier == nil {
		if status.State == loader.StateFailed {
			return Result{Outcome: OutcomeLoadFailed, Reason: status.Error}
		}
		return Result{Outcome: OutcomeNotReady, Reason: string(status.State)}
	}

	s.mu.Lock()
	img := s.image
	generation := s.generation
	s.mu.Unlock()

	if img == nil {
		return Result{Outcome: OutcomeNoImage}
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeBusy}
	}
	defer s.inFlight.Store(false)

	result, err := classifier.Classify(ctx, img.decoded.Image, timings)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Outcome: OutcomeError, Reason: "inference cancelled: " + err.Error()}
		}
		return Result{Outcome: OutcomeError, Reason: err.Error()}
	}

	if result.LabelMismatch {
		log.Printf("Session %s: model returned %d scores for %d labels", s.ID, len(result.Predictions), len(classifier.Labels()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return Result{Outcome: OutcomeSuperseded, Reason: "image replaced during inference"}
	}

	s.predictions = result.Predictions
	s.mismatch = result.LabelMismatch
	s.state = StatePredicted
	s.touched = time.Now()

	return Result{
		Outcome:       OutcomeOK,
		Predictions:   result.Predictions,
		LabelMismatch: result.LabelMismatch,
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.ID,
		State:         s.state,
		Predictions:   append([]models.Prediction{}, s.predictions...),
		LabelMismatch: s.mismatch,
		InFlight:      s.inFlight.Load(),
	}
	if s.image != nil {
		snap.Image = s.image.info()
	}
	return snap
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.touched = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (img *Image) info() *ImageInfo {
	return &ImageInfo{
		Filename:    img.Filename,
		ContentType: img.ContentType,
		Format:      img.Format,
		Size:        len(img.Data),
		Width:       img.Width,
		Height:      img.Height,
	}
}
