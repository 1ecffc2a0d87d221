// Package capture runs one detect, format and render cycle per captured image
// and tracks the single-shot capture session.
package capture

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/render"
)

// Outcome is the result of one capture
type Outcome struct {
	ID          string
	Summary     string // formatter output, no display prefix
	Results     []detection.DetectionResult
	Original    image.Image
	Annotated   image.Image
	Err         *ai.DetectionFailure // set when the detector failed
	StartedAt   time.Time
	CompletedAt time.Time
}

// DisplaySummary returns the summary as shown to the user
func (o *Outcome) DisplaySummary() string {
	return detection.DisplaySummary(o.Summary)
}

// Duration returns how long the cycle took
func (o *Outcome) Duration() time.Duration {
	return o.CompletedAt.Sub(o.StartedAt)
}

// Pipeline chains detector, formatter and renderer
type Pipeline struct {
	detector ai.Detector
	renderer *render.Renderer
	logger   *logger.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(detector ai.Detector, renderer *render.Renderer, log *logger.Logger) *Pipeline {
	if renderer == nil {
		renderer = render.New(render.Options{})
	}
	return &Pipeline{
		detector: detector,
		renderer: renderer,
		logger:   log,
	}
}

// Run processes img under a fresh capture ID
func (p *Pipeline) Run(ctx context.Context, img image.Image) *Outcome {
	return p.RunWithID(ctx, uuid.New().String(), img)
}

// RunWithID processes img. A detector failure is logged and handled as an
// empty detection sequence; the outcome still carries an annotated copy.
func (p *Pipeline) RunWithID(ctx context.Context, id string, img image.Image) *Outcome {
	outcome := &Outcome{
		ID:        id,
		Original:  img,
		StartedAt: time.Now(),
	}

	raw, err := p.detector.Detect(ctx, img)
	if err != nil {
		failure, ok := ai.AsFailure(err)
		if !ok {
			failure = ai.NewFailure(ai.FailureInference, err)
		}
		outcome.Err = failure
		raw = nil
		p.logger.Warn("Object detection failed",
			"capture_id", id,
			"kind", string(failure.Kind),
			"error", failure.Err,
		)
	}

	outcome.Summary, outcome.Results = detection.Format(raw)
	outcome.Annotated = p.renderer.Render(img, outcome.Results)
	outcome.CompletedAt = time.Now()

	p.logger.Debug("Capture processed",
		"capture_id", id,
		"raw_detections", len(raw),
		"results", len(outcome.Results),
		"duration_ms", outcome.Duration().Milliseconds(),
	)
	return outcome
}
