package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
)

// Mode is what the session is currently showing
type Mode string

const (
	ModePreview    Mode = "preview"    // live preview, ready to capture
	ModeProcessing Mode = "processing" // a capture is in flight
	ModeResult     Mode = "result"     // showing the last outcome
)

var (
	// ErrCaptureInProgress is returned when a capture is already in flight
	ErrCaptureInProgress = errors.New("capture already in progress")
	// ErrNotInPreview is returned when a result is shown and the session
	// has not been reset
	ErrNotInPreview = errors.New("session is showing a result; reset first")
	// ErrNoImage is returned for a nil image
	ErrNoImage = errors.New("no image provided")
)

// DefaultTimeout bounds one capture cycle when none is configured
const DefaultTimeout = 45 * time.Second

// Recorder persists finished outcomes
type Recorder interface {
	Record(ctx context.Context, outcome *Outcome) error
}

// SessionConfig contains capture session configuration
type SessionConfig struct {
	Timeout  time.Duration
	Recorder Recorder // optional
}

// Status is a point-in-time view of the session
type Status struct {
	Mode      Mode
	PendingID string   // set while processing
	Last      *Outcome // latest delivered outcome, may be nil
}

// Session allows one capture in flight at a time. Capture moves it from
// preview to processing and, once the outcome is delivered, to result.
// Reset is the only way to cancel a capture or leave the result.
type Session struct {
	*service.ServiceBase

	pipeline *Pipeline
	recorder Recorder
	timeout  time.Duration

	mu        sync.Mutex
	mode      Mode
	cancel    context.CancelFunc
	pendingID string
	gen       uint64
	last      *Outcome
	wg        sync.WaitGroup
}

// NewSession creates a session in preview mode
func NewSession(pipeline *Pipeline, cfg SessionConfig, log *logger.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Session{
		ServiceBase: service.NewServiceBase("capture-session", log),
		pipeline:    pipeline,
		recorder:    cfg.Recorder,
		timeout:     cfg.Timeout,
		mode:        ModePreview,
	}
}

// Start marks the session as running
func (s *Session) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Capture session started", "timeout", s.timeout)
	return nil
}

// Stop cancels any in-flight capture and waits for its goroutine to exit
func (s *Session) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	s.Reset()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Capture session stopped")
	return nil
}

// Mode returns the current mode
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Last returns the latest delivered outcome, or nil
func (s *Session) Last() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Snapshot returns the current mode, pending capture and last outcome
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Mode: s.mode, PendingID: s.pendingID, Last: s.last}
}

// Capture starts processing img. The returned channel receives exactly one
// outcome and is then closed; if the session is reset first it is closed
// without a value. The cycle runs independently of ctx cancellation (only
// its values are kept) and is bounded by the configured timeout.
func (s *Session) Capture(ctx context.Context, img image.Image) (<-chan *Outcome, error) {
	_, out, err := s.Submit(ctx, img)
	return out, err
}

// Submit is Capture that also returns the ID the outcome will carry
func (s *Session) Submit(ctx context.Context, img image.Image) (string, <-chan *Outcome, error) {
	if img == nil {
		return "", nil, ErrNoImage
	}

	s.mu.Lock()
	switch s.mode {
	case ModeProcessing:
		s.mu.Unlock()
		return "", nil, ErrCaptureInProgress
	case ModeResult:
		s.mu.Unlock()
		return "", nil, ErrNotInPreview
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	id := uuid.New().String()
	s.gen++
	gen := s.gen
	s.mode = ModeProcessing
	s.cancel = cancel
	s.pendingID = id
	s.wg.Add(1)
	s.mu.Unlock()

	s.LogDebug("Capture started", "capture_id", id)
	s.PublishEvent(service.EventTypeCaptureStarted, map[string]interface{}{
		"capture_id": id,
	})

	out := make(chan *Outcome, 1)
	go s.run(runCtx, cancel, gen, id, img, out)
	return id, out, nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, gen uint64, id string, img image.Image, out chan<- *Outcome) {
	defer s.wg.Done()
	defer close(out)
	defer cancel()

	outcome := s.pipeline.RunWithID(ctx, id, img)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.LogInfo("Capture discarded after reset", "capture_id", id)
		s.PublishEvent(service.EventTypeCaptureDiscarded, map[string]interface{}{
			"capture_id": id,
		})
		return
	}
	s.mode = ModeResult
	s.cancel = nil
	s.pendingID = ""
	s.last = outcome
	s.mu.Unlock()

	if outcome.Err != nil {
		s.PublishEvent(service.EventTypeDetectionFailed, map[string]interface{}{
			"capture_id": id,
			"kind":       string(outcome.Err.Kind),
			"error":      outcome.Err.Error(),
		})
	}

	if s.recorder != nil {
		recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		if err := s.recorder.Record(recordCtx, outcome); err != nil {
			s.LogError("Failed to record capture", err, "capture_id", id)
		}
		recordCancel()
	}

	s.LogInfo("Capture completed",
		"capture_id", id,
		"summary", outcome.Summary,
		"results", len(outcome.Results),
		"duration_ms", outcome.Duration().Milliseconds(),
	)
	s.PublishEvent(service.EventTypeCaptureCompleted, map[string]interface{}{
		"capture_id": id,
		"outcome":    outcome,
	})

	out <- outcome
}

// Reset cancels an in-flight capture, discarding its outcome, and returns
// the session to preview. It is safe to call in any mode.
func (s *Session) Reset() {
	s.mu.Lock()
	prev := s.mode
	pending := s.pendingID
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if prev == ModeProcessing {
		s.gen++
	}
	s.mode = ModePreview
	s.pendingID = ""
	s.mu.Unlock()

	if prev == ModePreview {
		return
	}
	s.LogDebug("Session reset", "previous_mode", string(prev), "cancelled_capture", pending)
	s.PublishEvent(service.EventTypeSessionReset, map[string]interface{}{
		"previous_mode":     string(prev),
		"cancelled_capture": pending,
	})
}
