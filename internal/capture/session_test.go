package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
)

func testLogger() *logger.Logger {
	log, _ := logger.New(logger.LogConfig{Level: "debug", Format: "text", Output: "stdout"})
	return log
}

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
	return img
}

var appleDetections = []detection.RawDetection{
	{BoundingBox: image.Rect(10, 20, 110, 180), Labels: []detection.Label{{Text: "apple", Confidence: 0.9}}},
}

// blockingDetector waits until released or its context ends
type blockingDetector struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
	raw     []detection.RawDetection
}

func newBlockingDetector(raw []detection.RawDetection) *blockingDetector {
	return &blockingDetector{release: make(chan struct{}), started: make(chan struct{}), raw: raw}
}

func (d *blockingDetector) Detect(ctx context.Context, img image.Image) ([]detection.RawDetection, error) {
	d.once.Do(func() { close(d.started) })
	select {
	case <-d.release:
		return d.raw, nil
	case <-ctx.Done():
		return nil, ai.NewFailure(ai.FailureInference, ctx.Err())
	}
}

type recorderFunc func(ctx context.Context, o *Outcome) error

func (f recorderFunc) Record(ctx context.Context, o *Outcome) error { return f(ctx, o) }

func receive(t *testing.T, ch <-chan *Outcome) (*Outcome, bool) {
	t.Helper()
	select {
	case o, ok := <-ch:
		return o, ok
	case <-time.After(5 * time.Second):
		t.Fatal("outcome not delivered")
		return nil, false
	}
}

func TestSession_CaptureDeliversOneOutcome(t *testing.T) {
	var recorded []*Outcome
	var mu sync.Mutex
	rec := recorderFunc(func(ctx context.Context, o *Outcome) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, o)
		return nil
	})

	pipeline := NewPipeline(ai.NewReplayDetector(appleDetections), nil, testLogger())
	s := NewSession(pipeline, SessionConfig{Recorder: rec}, testLogger())
	assert.Equal(t, ModePreview, s.Mode())
	assert.Nil(t, s.Last())

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)

	outcome, ok := receive(t, ch)
	require.True(t, ok)
	assert.Equal(t, "Apple", outcome.Summary)
	assert.Equal(t, "Classified as: Apple", outcome.DisplaySummary())
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "apple, 90%", outcome.Results[0].Text())
	assert.NotEmpty(t, outcome.ID)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after the single outcome")

	assert.Equal(t, ModeResult, s.Mode())
	assert.Same(t, outcome, s.Last())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.Same(t, outcome, recorded[0])
}

func TestSession_RejectsOverlappingCapture(t *testing.T) {
	det := newBlockingDetector(appleDetections)
	s := NewSession(NewPipeline(det, nil, testLogger()), SessionConfig{}, testLogger())

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	<-det.started

	assert.Equal(t, ModeProcessing, s.Mode())
	assert.NotEmpty(t, s.Snapshot().PendingID)

	_, err = s.Capture(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrCaptureInProgress)

	close(det.release)
	_, ok := receive(t, ch)
	require.True(t, ok)

	_, err = s.Capture(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrNotInPreview)

	s.Reset()
	assert.Equal(t, ModePreview, s.Mode())
	assert.NotNil(t, s.Last())

	ch, err = s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	_, ok = receive(t, ch)
	assert.True(t, ok)
}

func TestSession_ResetDiscardsInFlightOutcome(t *testing.T) {
	det := newBlockingDetector(appleDetections)
	recorded := false
	rec := recorderFunc(func(ctx context.Context, o *Outcome) error {
		recorded = true
		return nil
	})
	s := NewSession(NewPipeline(det, nil, testLogger()), SessionConfig{Recorder: rec}, testLogger())

	bus := service.NewEventBus(10)
	s.SetEventBus(bus)
	discarded := bus.Subscribe(service.EventTypeCaptureDiscarded)

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	<-det.started

	s.Reset()
	assert.Equal(t, ModePreview, s.Mode())

	outcome, ok := receive(t, ch)
	assert.False(t, ok, "reset capture must not deliver")
	assert.Nil(t, outcome)
	assert.Nil(t, s.Last())
	assert.False(t, recorded)

	select {
	case ev := <-discarded:
		assert.NotEmpty(t, ev.Data["capture_id"])
	case <-time.After(time.Second):
		t.Fatal("discard event not published")
	}

	// a new capture is accepted right away
	close(det.release)
	ch, err = s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	_, ok = receive(t, ch)
	assert.True(t, ok)
}

func TestSession_DetectorFailureYieldsEmptyOutcome(t *testing.T) {
	cause := errors.New("interpreter failed")
	pipeline := NewPipeline(ai.NewFailingDetector(ai.FailureModelLoad, cause), nil, testLogger())
	s := NewSession(pipeline, SessionConfig{}, testLogger())

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)

	outcome, ok := receive(t, ch)
	require.True(t, ok)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, ai.FailureModelLoad, outcome.Err.Kind)
	assert.Equal(t, "", outcome.Summary)
	assert.Empty(t, outcome.Results)
	assert.NotNil(t, outcome.Results)
	assert.Equal(t, detection.NoClassification, outcome.DisplaySummary())
	require.NotNil(t, outcome.Annotated)
	assert.Equal(t, ModeResult, s.Mode())
}

func TestSession_Timeout(t *testing.T) {
	det := newBlockingDetector(appleDetections)
	s := NewSession(NewPipeline(det, nil, testLogger()), SessionConfig{Timeout: 50 * time.Millisecond}, testLogger())

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)

	outcome, ok := receive(t, ch)
	require.True(t, ok)
	require.NotNil(t, outcome.Err)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	assert.Empty(t, outcome.Results)
}

func TestSession_CallerContextCancelDoesNotAbortCapture(t *testing.T) {
	det := newBlockingDetector(appleDetections)
	s := NewSession(NewPipeline(det, nil, testLogger()), SessionConfig{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Capture(ctx, testImage())
	require.NoError(t, err)
	<-det.started
	cancel()

	close(det.release)
	outcome, ok := receive(t, ch)
	require.True(t, ok)
	assert.Nil(t, outcome.Err)
	assert.Equal(t, "Apple", outcome.Summary)
}

func TestSession_RecorderErrorStillDelivers(t *testing.T) {
	rec := recorderFunc(func(ctx context.Context, o *Outcome) error {
		return errors.New("disk full")
	})
	pipeline := NewPipeline(ai.NewReplayDetector(appleDetections), nil, testLogger())
	s := NewSession(pipeline, SessionConfig{Recorder: rec}, testLogger())

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	outcome, ok := receive(t, ch)
	require.True(t, ok)
	assert.Equal(t, "Apple", outcome.Summary)
}

func TestSession_NilImage(t *testing.T) {
	s := NewSession(NewPipeline(ai.NewReplayDetector(nil), nil, testLogger()), SessionConfig{}, testLogger())

	_, err := s.Capture(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, ModePreview, s.Mode())
}

func TestSession_PublishesCompletedEvent(t *testing.T) {
	pipeline := NewPipeline(ai.NewReplayDetector(appleDetections), nil, testLogger())
	s := NewSession(pipeline, SessionConfig{}, testLogger())

	bus := service.NewEventBus(10)
	s.SetEventBus(bus)
	completed := bus.Subscribe(service.EventTypeCaptureCompleted)

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	outcome, _ := receive(t, ch)

	select {
	case ev := <-completed:
		assert.Equal(t, outcome.ID, ev.Data["capture_id"])
		assert.Same(t, outcome, ev.Data["outcome"])
	case <-time.After(time.Second):
		t.Fatal("completed event not published")
	}
}

func TestSession_StopCancelsInFlight(t *testing.T) {
	det := newBlockingDetector(appleDetections)
	s := NewSession(NewPipeline(det, nil, testLogger()), SessionConfig{}, testLogger())
	require.NoError(t, s.Start(context.Background()))

	ch, err := s.Capture(context.Background(), testImage())
	require.NoError(t, err)
	<-det.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	_, ok := receive(t, ch)
	assert.False(t, ok)
	assert.Equal(t, service.StatusStopped, s.GetStatus().GetStatus())
}

func TestSession_SubmitReturnsOutcomeID(t *testing.T) {
	pipeline := NewPipeline(ai.NewReplayDetector(appleDetections), nil, testLogger())
	s := NewSession(pipeline, SessionConfig{}, testLogger())

	id, ch, err := s.Submit(context.Background(), testImage())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	outcome, ok := receive(t, ch)
	require.True(t, ok)
	assert.Equal(t, id, outcome.ID)
}
