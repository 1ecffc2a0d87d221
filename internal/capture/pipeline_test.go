package capture

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/render"
)

func TestPipeline_Run(t *testing.T) {
	raw := []detection.RawDetection{
		{BoundingBox: image.Rect(10, 10, 100, 100), Labels: []detection.Label{{Text: " apple ", Confidence: 0.9}}},
		{BoundingBox: image.Rect(0, 0, 5, 5)},
		{BoundingBox: image.Rect(50, 50, 150, 150), Labels: []detection.Label{{Text: "banana", Confidence: 0.51}}},
	}
	img := testImage()
	before := append([]uint8(nil), img.Pix...)

	p := NewPipeline(ai.NewReplayDetector(raw), render.New(render.Options{}), testLogger())
	outcome := p.Run(context.Background(), img)

	assert.NotEmpty(t, outcome.ID)
	assert.Nil(t, outcome.Err)
	assert.Equal(t, "Apple, banana", outcome.Summary)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "banana, 51%", outcome.Results[1].Text())
	assert.Same(t, img, outcome.Original)
	assert.Equal(t, img.Bounds().Size(), outcome.Annotated.Bounds().Size())
	assert.Equal(t, before, img.Pix, "original must not be modified")
	assert.False(t, outcome.CompletedAt.Before(outcome.StartedAt))
}

func TestPipeline_WrapsPlainDetectorErrors(t *testing.T) {
	det := ai.DetectorFunc(func(ctx context.Context, img image.Image) ([]detection.RawDetection, error) {
		return appleDetections, errors.New("partial output")
	})

	outcome := NewPipeline(det, nil, testLogger()).RunWithID(context.Background(), "fixed-id", testImage())

	assert.Equal(t, "fixed-id", outcome.ID)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, ai.FailureInference, outcome.Err.Kind)
	// output accompanying an error is ignored
	assert.Empty(t, outcome.Results)
	assert.Equal(t, "", outcome.Summary)
}
