package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mgangumalla/focus/internal/logger"
)

// DiskUsage describes the filesystem holding the captures directory
type DiskUsage struct {
	Path           string  `json:"path"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// DiskMonitor reports disk usage, caching readings briefly
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger
	cacheDuration   time.Duration
	usage           func(ctx context.Context, path string) (*DiskUsage, error)

	mu        sync.RWMutex
	lastCheck time.Time
	cached    *DiskUsage
}

// NewDiskMonitor creates a monitor for the filesystem holding path
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) *DiskMonitor {
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		cacheDuration:   30 * time.Second,
		usage:           filesystemUsage,
	}
}

// GetUsage returns current disk usage
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cached
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.usage(ctx, d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cached = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	if usage.UsagePercent >= d.maxUsagePercent {
		d.logger.Warn("Disk usage above limit",
			"path", usage.Path,
			"usage_percent", usage.UsagePercent,
			"max_usage_percent", d.maxUsagePercent,
		)
	}

	copied := *usage
	return &copied, nil
}

// CheckSpace reports whether usage is below the limit
func (d *DiskMonitor) CheckSpace(ctx context.Context) (bool, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent < d.maxUsagePercent, nil
}

// IsDiskFull returns true if usage is at or above the limit
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, error) {
	hasSpace, err := d.CheckSpace(ctx)
	if err != nil {
		return false, err
	}
	return !hasSpace, nil
}

func filesystemUsage(ctx context.Context, path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	stat, err := disk.UsageWithContext(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	return &DiskUsage{
		Path:           absPath,
		TotalBytes:     stat.Total,
		UsedBytes:      stat.Used,
		AvailableBytes: stat.Free,
		UsagePercent:   stat.UsedPercent,
	}, nil
}
