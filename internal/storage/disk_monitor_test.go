package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/mgangumalla/focus/internal/logger"
)

func TestDiskMonitor_GetUsage(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 100, logger.NewNopLogger())

	usage, err := monitor.GetUsage(context.Background())
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage.TotalBytes == 0 {
		t.Error("TotalBytes should be greater than 0")
	}
	if usage.UsagePercent < 0 || usage.UsagePercent > 100 {
		t.Errorf("UsagePercent should be between 0 and 100, got %f", usage.UsagePercent)
	}
}

func TestDiskMonitor_CachesUsage(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
	calls := 0
	monitor.usage = func(ctx context.Context, path string) (*DiskUsage, error) {
		calls++
		return &DiskUsage{Path: path, UsagePercent: 50}, nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := monitor.GetUsage(ctx); err != nil {
			t.Fatalf("GetUsage failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("Expected 1 filesystem read, got %d", calls)
	}

	monitor.cacheDuration = 0
	if _, err := monitor.GetUsage(ctx); err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected cache to expire, got %d reads", calls)
	}
}

func TestDiskMonitor_CheckSpace(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		hasRoom bool
	}{
		{"below limit", 79.9, true},
		{"at limit", 80, false},
		{"above limit", 95, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
			monitor.usage = func(ctx context.Context, path string) (*DiskUsage, error) {
				return &DiskUsage{UsagePercent: tt.percent}, nil
			}

			hasRoom, err := monitor.CheckSpace(context.Background())
			if err != nil {
				t.Fatalf("CheckSpace failed: %v", err)
			}
			if hasRoom != tt.hasRoom {
				t.Errorf("CheckSpace = %v, want %v", hasRoom, tt.hasRoom)
			}

			full, _ := monitor.IsDiskFull(context.Background())
			if full == tt.hasRoom {
				t.Errorf("IsDiskFull = %v, want %v", full, !tt.hasRoom)
			}
		})
	}
}

func TestDiskMonitor_Error(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
	monitor.usage = func(ctx context.Context, path string) (*DiskUsage, error) {
		return nil, errors.New("statfs failed")
	}

	if _, err := monitor.CheckSpace(context.Background()); err == nil {
		t.Error("Expected error from CheckSpace")
	}
}
