package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/mgangumalla/focus/internal/detection"
)

// ReplayDetector returns a fixed, recorded detection sequence for every
// image. It is used offline and in tests.
type ReplayDetector struct {
	detections []detection.RawDetection
	failure    *DetectionFailure
}

// NewReplayDetector returns a detector that always yields raw
func NewReplayDetector(raw []detection.RawDetection) *ReplayDetector {
	return &ReplayDetector{detections: raw}
}

// NewFailingDetector returns a detector that always fails with kind
func NewFailingDetector(kind FailureKind, err error) *ReplayDetector {
	return &ReplayDetector{failure: NewFailure(kind, err)}
}

// LoadReplayDetector reads a JSON array of raw detections from path
func LoadReplayDetector(path string) (*ReplayDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read detections file: %w", err)
	}

	var raw []detection.RawDetection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse detections file %s: %w", path, err)
	}
	return NewReplayDetector(raw), nil
}

// Detect returns a copy of the recorded detections
func (d *ReplayDetector) Detect(ctx context.Context, _ image.Image) ([]detection.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewFailure(FailureInference, err)
	}
	if d.failure != nil {
		return nil, d.failure
	}

	out := make([]detection.RawDetection, len(d.detections))
	for i, r := range d.detections {
		out[i] = detection.RawDetection{
			BoundingBox: r.BoundingBox,
			Labels:      append([]detection.Label(nil), r.Labels...),
		}
	}
	return out, nil
}
