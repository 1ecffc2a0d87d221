package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
	"github.com/mgangumalla/focus/internal/storage"
)

type fakeDisk struct {
	usage *storage.DiskUsage
	err   error
}

func (f *fakeDisk) DiskUsage(ctx context.Context) (*storage.DiskUsage, error) {
	return f.usage, f.err
}

type fakeStats struct {
	stats *ai.InferenceStats
	err   error
}

func (f *fakeStats) GetStats(ctx context.Context) (*ai.InferenceStats, error) {
	return f.stats, f.err
}

func setupTestCollector(t *testing.T, disk DiskUsager) *Collector {
	log, _ := logger.New(logger.LogConfig{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	})
	return NewCollector(disk, log)
}

func completedEvent(results int, failure *ai.DetectionFailure, d time.Duration) service.Event {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outcome := &capture.Outcome{
		ID:          "cap",
		Results:     make([]detection.DetectionResult, results),
		Err:         failure,
		StartedAt:   start,
		CompletedAt: start.Add(d),
	}
	return service.Event{
		Type: service.EventTypeCaptureCompleted,
		Data: map[string]interface{}{"capture_id": outcome.ID, "outcome": outcome},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	collector := setupTestCollector(t, nil)

	if collector.Name() != "telemetry-collector" {
		t.Errorf("Expected service name 'telemetry-collector', got %s", collector.Name())
	}
	if collector.GetLastMetrics() != nil {
		t.Error("Expected no metrics before the first collection")
	}
}

func TestCollector_Observe(t *testing.T) {
	collector := setupTestCollector(t, nil)

	collector.Observe(service.Event{Type: service.EventTypeCaptureStarted})
	collector.Observe(service.Event{Type: service.EventTypeCaptureStarted})
	collector.Observe(service.Event{Type: service.EventTypeCaptureStarted})
	collector.Observe(completedEvent(2, nil, 100*time.Millisecond))
	collector.Observe(completedEvent(0, ai.NewFailure(ai.FailureModelLoad, errors.New("not ready")), 300*time.Millisecond))
	collector.Observe(service.Event{Type: service.EventTypeCaptureDiscarded})
	collector.Observe(service.Event{Type: service.EventTypeCaptureStored})
	collector.Observe(service.Event{Type: service.EventTypeCaptureDeleted})
	collector.Observe(service.Event{Type: service.EventTypeRetentionSweep, Data: map[string]interface{}{"deleted": 4}})
	// malformed payloads are ignored
	collector.Observe(service.Event{Type: service.EventTypeCaptureCompleted, Data: map[string]interface{}{}})

	m := collector.captureSnapshot()
	if m.Started != 3 || m.Completed != 2 || m.Discarded != 1 {
		t.Errorf("Unexpected capture counters: %+v", m)
	}
	if m.WithDetections != 1 {
		t.Errorf("Expected 1 capture with detections, got %d", m.WithDetections)
	}
	if m.DetectorFailures[string(ai.FailureModelLoad)] != 1 {
		t.Errorf("Expected one model_load failure, got %v", m.DetectorFailures)
	}
	if m.Stored != 1 || m.Deleted != 1 || m.RetentionDeleted != 4 {
		t.Errorf("Unexpected storage counters: %+v", m)
	}
	if m.AvgDurationMs != 200 || m.LastDurationMs != 300 {
		t.Errorf("Expected avg 200ms and last 300ms, got %v and %v", m.AvgDurationMs, m.LastDurationMs)
	}
	if m.LastCompletedAt == nil {
		t.Error("Expected last completion time")
	}
}

func TestCollector_Collect(t *testing.T) {
	disk := &fakeDisk{usage: &storage.DiskUsage{Path: "/captures", TotalBytes: 100, UsedBytes: 40, UsagePercent: 40}}
	collector := setupTestCollector(t, disk)
	collector.Observe(completedEvent(1, nil, time.Millisecond))

	data, err := collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if data.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if data.System.Goroutines == 0 {
		t.Error("Expected goroutine count")
	}
	if data.System.Disk == nil || data.System.Disk.UsagePercent != 40 {
		t.Errorf("Expected disk usage from the store, got %+v", data.System.Disk)
	}
	if data.Captures.Completed != 1 {
		t.Errorf("Expected 1 completed capture, got %d", data.Captures.Completed)
	}
	if collector.GetLastMetrics() != data {
		t.Error("GetLastMetrics should return the last collection")
	}

	// the snapshot is a copy
	data.Captures.DetectorFailures["inference"] = 9
	if collector.captureSnapshot().DetectorFailures["inference"] != 0 {
		t.Error("Snapshot shares the failure map with the collector")
	}
}

func TestCollector_Collect_DiskError(t *testing.T) {
	collector := setupTestCollector(t, &fakeDisk{err: errors.New("statfs failed")})

	data, err := collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if data.System.Disk != nil {
		t.Errorf("Expected no disk usage, got %+v", data.System.Disk)
	}
}

func TestCollector_Collect_DetectorStats(t *testing.T) {
	collector := setupTestCollector(t, nil)

	data, err := collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if data.Detector != nil {
		t.Errorf("Expected no detector stats without a source, got %+v", data.Detector)
	}

	collector.SetDetectorStats(&fakeStats{stats: &ai.InferenceStats{TotalInferences: 3, AverageTimeMs: 12.5}})
	data, err = collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if data.Detector == nil || data.Detector.TotalInferences != 3 {
		t.Errorf("Expected detector stats, got %+v", data.Detector)
	}

	collector.SetDetectorStats(&fakeStats{err: errors.New("service down")})
	data, err = collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect should not fail on detector errors: %v", err)
	}
	if data.Detector != nil {
		t.Errorf("Expected no detector stats on error, got %+v", data.Detector)
	}
}

func TestCollector_StartStop(t *testing.T) {
	collector := setupTestCollector(t, nil)
	bus := service.NewEventBus(10)
	collector.SetEventBus(bus)

	ctx := context.Background()
	if err := collector.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if collector.GetStatus().GetStatus() != service.StatusRunning {
		t.Errorf("Expected status running, got %s", collector.GetStatus().GetStatus())
	}

	bus.Publish(service.Event{Type: service.EventTypeCaptureStarted})
	// not counted
	bus.Publish(service.Event{Type: service.EventTypeServiceStarted})

	deadline := time.Now().Add(2 * time.Second)
	for collector.captureSnapshot().Started == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Event was not observed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := collector.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if collector.GetStatus().GetStatus() != service.StatusStopped {
		t.Errorf("Expected status stopped, got %s", collector.GetStatus().GetStatus())
	}
}

func TestCollector_StartWithoutBus(t *testing.T) {
	collector := setupTestCollector(t, nil)

	if err := collector.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := collector.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
