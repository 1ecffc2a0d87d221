package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/storage"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// SystemChecker reports process and host memory
type SystemChecker struct {
	// MaxMemoryPercent marks the host degraded at or above this usage
	MaxMemoryPercent float64
}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["goroutines"] = runtime.NumGoroutine()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		check.Status = StatusHealthy
		check.Message = "Memory statistics unavailable"
		check.Details["memory_error"] = err.Error()
		return check
	}
	check.Details["memory_used_percent"] = vm.UsedPercent
	check.Details["memory_available_bytes"] = vm.Available

	limit := c.MaxMemoryPercent
	if limit <= 0 {
		limit = 95
	}
	if vm.UsedPercent >= limit {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Memory usage %.1f%% at or above %.0f%%", vm.UsedPercent, limit)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "System resources OK"
	return check
}

// Pinger is implemented by the state manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if c.path != "" {
		check.Details["path"] = c.path
	}

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not initialized"
		return check
	}

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DetectorChecker checks the inference service. An unreachable detector
// only degrades the report: captures still complete with no detections.
type DetectorChecker struct {
	detector   ai.HealthChecker
	serviceURL string
}

func NewDetectorChecker(detector ai.HealthChecker, serviceURL string) *DetectorChecker {
	return &DetectorChecker{detector: detector, serviceURL: serviceURL}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if c.serviceURL != "" {
		check.Details["url"] = c.serviceURL
	}

	if c.detector == nil {
		check.Status = StatusDegraded
		check.Message = "Detector service not configured"
		return check
	}

	if err := c.detector.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Detector service unavailable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Detector service is ready"
	return check
}

// DiskSpace is implemented by the capture store
type DiskSpace interface {
	DiskUsage(ctx context.Context) (*storage.DiskUsage, error)
	CheckDiskSpace(ctx context.Context) (bool, error)
}

// StorageChecker checks that the captures directory is writable and the
// disk has room
type StorageChecker struct {
	capturesDir string
	disk        DiskSpace
}

func NewStorageChecker(capturesDir string, disk DiskSpace) *StorageChecker {
	return &StorageChecker{capturesDir: capturesDir, disk: disk}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["captures_dir"] = c.capturesDir

	if err := probeWritable(c.capturesDir); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Captures directory not writable: %v", err)
		check.Details["captures_dir_writable"] = false
		return check
	}
	check.Details["captures_dir_writable"] = true

	if c.disk == nil {
		check.Status = StatusHealthy
		check.Message = "Storage directories accessible"
		return check
	}

	usage, err := c.disk.DiskUsage(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}
	check.Details["disk_usage_percent"] = usage.UsagePercent
	check.Details["disk_available_bytes"] = usage.AvailableBytes

	hasSpace, err := c.disk.CheckDiskSpace(ctx)
	if err == nil && !hasSpace {
		check.Status = StatusDegraded
		check.Message = "Disk usage above limit, new captures are not stored"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Storage directories accessible"
	return check
}

func probeWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("not configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
