// Package ai adapts object detectors to the raw detection model used by the
// formatter. Detectors are opaque: an HTTP inference service client and a
// replay detector backed by recorded detections are provided.
package ai

import (
	"context"
	"image"

	"github.com/mgangumalla/focus/internal/detection"
)

// Detector runs object detection on one still image. Failures are reported
// as *DetectionFailure.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]detection.RawDetection, error)
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(ctx context.Context, img image.Image) ([]detection.RawDetection, error)

// Detect calls f
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]detection.RawDetection, error) {
	return f(ctx, img)
}

// HealthChecker is implemented by detectors backed by a remote service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
