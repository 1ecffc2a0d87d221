// Package telemetry keeps running counters of capture activity and samples
// host metrics on demand.
package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
	"github.com/mgangumalla/focus/internal/storage"
)

// DiskUsager reports usage of the captures filesystem
type DiskUsager interface {
	DiskUsage(ctx context.Context) (*storage.DiskUsage, error)
}

// DetectorStats reports inference statistics from the detector service
type DetectorStats interface {
	GetStats(ctx context.Context) (*ai.InferenceStats, error)
}

// SystemMetrics are host level metrics
type SystemMetrics struct {
	CPUUsagePercent    float64            `json:"cpu_usage_percent"`
	MemoryUsedBytes    uint64             `json:"memory_used_bytes"`
	MemoryTotalBytes   uint64             `json:"memory_total_bytes"`
	MemoryUsagePercent float64            `json:"memory_usage_percent"`
	Goroutines         int                `json:"goroutines"`
	Disk               *storage.DiskUsage `json:"disk,omitempty"`
}

// CaptureMetrics count capture activity since the collector started
type CaptureMetrics struct {
	Started          int64            `json:"started"`
	Completed        int64            `json:"completed"`
	Discarded        int64            `json:"discarded"`
	WithDetections   int64            `json:"with_detections"`
	DetectorFailures map[string]int64 `json:"detector_failures"`
	Stored           int64            `json:"stored"`
	Deleted          int64            `json:"deleted"`
	RetentionDeleted int64            `json:"retention_deleted"`
	AvgDurationMs    float64          `json:"avg_duration_ms"`
	LastDurationMs   int64            `json:"last_duration_ms"`
	LastCompletedAt  *time.Time       `json:"last_completed_at,omitempty"`
}

// Metrics is one collected sample
type Metrics struct {
	Timestamp time.Time          `json:"timestamp"`
	Uptime    string             `json:"uptime"`
	System    SystemMetrics      `json:"system"`
	Captures  CaptureMetrics     `json:"captures"`
	Detector  *ai.InferenceStats `json:"detector,omitempty"`
}

var observedEvents = []service.EventType{
	service.EventTypeCaptureStarted,
	service.EventTypeCaptureCompleted,
	service.EventTypeCaptureDiscarded,
	service.EventTypeCaptureStored,
	service.EventTypeCaptureDeleted,
	service.EventTypeRetentionSweep,
}

// Collector counts events from the bus and samples host metrics
type Collector struct {
	*service.ServiceBase
	disk      DiskUsager
	detector  DetectorStats
	startTime time.Time

	mu            sync.RWMutex
	captures      CaptureMetrics
	totalDuration time.Duration
	lastMetrics   *Metrics

	cancel context.CancelFunc
}

// NewCollector creates a new telemetry collector. disk may be nil.
func NewCollector(disk DiskUsager, log *logger.Logger) *Collector {
	return &Collector{
		ServiceBase: service.NewServiceBase("telemetry-collector", log),
		disk:        disk,
		startTime:   time.Now(),
		captures:    CaptureMetrics{DetectorFailures: make(map[string]int64)},
	}
}

// SetDetectorStats adds detector service statistics to each collection
func (c *Collector) SetDetectorStats(stats DetectorStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detector = stats
}

// Start subscribes to the event bus
func (c *Collector) Start(ctx context.Context) error {
	bus := c.GetEventBus()
	if bus == nil {
		c.LogWarn("No event bus, capture counters disabled")
		c.GetStatus().SetStatus(service.StatusRunning)
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	for _, eventType := range observedEvents {
		bus.SubscribeWithHandler(runCtx, eventType, func(ctx context.Context, ev service.Event) error {
			c.Observe(ev)
			return nil
		}, nil)
	}

	c.GetStatus().SetStatus(service.StatusRunning)
	c.LogInfo("Telemetry collector started")
	return nil
}

// Stop stops the telemetry collector service
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.GetStatus().SetStatus(service.StatusStopped)
	c.LogInfo("Telemetry collector stopped")
	return nil
}

// Observe folds one event into the counters
func (c *Collector) Observe(ev service.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case service.EventTypeCaptureStarted:
		c.captures.Started++
	case service.EventTypeCaptureDiscarded:
		c.captures.Discarded++
	case service.EventTypeCaptureCompleted:
		outcome, ok := ev.Data["outcome"].(*capture.Outcome)
		if !ok || outcome == nil {
			return
		}
		c.captures.Completed++
		if len(outcome.Results) > 0 {
			c.captures.WithDetections++
		}
		if outcome.Err != nil {
			c.captures.DetectorFailures[string(outcome.Err.Kind)]++
		}
		d := outcome.Duration()
		c.totalDuration += d
		c.captures.LastDurationMs = d.Milliseconds()
		c.captures.AvgDurationMs = float64(c.totalDuration.Milliseconds()) / float64(c.captures.Completed)
		completed := outcome.CompletedAt
		c.captures.LastCompletedAt = &completed
	case service.EventTypeCaptureStored:
		c.captures.Stored++
	case service.EventTypeCaptureDeleted:
		c.captures.Deleted++
	case service.EventTypeRetentionSweep:
		if n, ok := ev.Data["deleted"].(int); ok {
			c.captures.RetentionDeleted += int64(n)
		}
	}
}

// Collect samples host metrics and copies the capture counters
func (c *Collector) Collect(ctx context.Context) (*Metrics, error) {
	data := &Metrics{
		Timestamp: time.Now(),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		System:    c.collectSystemMetrics(ctx),
		Captures:  c.captureSnapshot(),
	}

	c.mu.RLock()
	detector := c.detector
	c.mu.RUnlock()
	if detector != nil {
		if stats, err := detector.GetStats(ctx); err != nil {
			c.LogDebug("Failed to read detector stats", "error", err)
		} else {
			data.Detector = stats
		}
	}

	c.mu.Lock()
	c.lastMetrics = data
	c.mu.Unlock()

	return data, nil
}

// GetLastMetrics returns the last collected metrics
func (c *Collector) GetLastMetrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) captureSnapshot() CaptureMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.captures
	snap.DetectorFailures = make(map[string]int64, len(c.captures.DetectorFailures))
	for k, v := range c.captures.DetectorFailures {
		snap.DetectorFailures[k] = v
	}
	return snap
}

// collectSystemMetrics fills what it can; a failing source leaves zeros
func (c *Collector) collectSystemMetrics(ctx context.Context) SystemMetrics {
	sys := SystemMetrics{Goroutines: runtime.NumGoroutine()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		c.LogDebug("Failed to read CPU usage", "error", err)
	} else if len(percents) > 0 {
		sys.CPUUsagePercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.LogDebug("Failed to read memory usage", "error", err)
	} else {
		sys.MemoryUsedBytes = vm.Used
		sys.MemoryTotalBytes = vm.Total
		sys.MemoryUsagePercent = vm.UsedPercent
	}

	if c.disk != nil {
		if usage, err := c.disk.DiskUsage(ctx); err != nil {
			c.LogDebug("Failed to read disk usage", "error", err)
		} else {
			sys.Disk = usage
		}
	}

	return sys
}
