package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
	"github.com/mgangumalla/focus/internal/storage"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) Check {
	return Check{Name: c.name, Status: c.status}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fakeDisk struct {
	percent  float64
	hasSpace bool
	err      error
}

func (d fakeDisk) DiskUsage(ctx context.Context) (*storage.DiskUsage, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &storage.DiskUsage{UsagePercent: d.percent}, nil
}

func (d fakeDisk) CheckDiskSpace(ctx context.Context) (bool, error) {
	return d.hasSpace, d.err
}

func TestManager_OverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"no checkers", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusUnhealthy, StatusDegraded}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(logger.NewNopLogger(), nil)
			for i, s := range tt.statuses {
				m.RegisterChecker(staticChecker{name: string(rune('a' + i)), status: s})
			}

			report := m.Check(context.Background())
			if report.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, report.Status)
			}
			if len(report.Checks) != len(tt.statuses) {
				t.Errorf("Expected %d checks, got %d", len(tt.statuses), len(report.Checks))
			}
			if report.Ready() != (tt.want != StatusUnhealthy) {
				t.Errorf("Ready() = %v for status %s", report.Ready(), tt.want)
			}
		})
	}
}

func TestManager_Services(t *testing.T) {
	svcManager := service.NewManager(logger.NewNopLogger())
	m := NewManager(logger.NewNopLogger(), svcManager)
	if len(m.Services()) != 0 {
		t.Errorf("Expected no services, got %v", m.Services())
	}

	if NewManager(logger.NewNopLogger(), nil).Services() != nil {
		t.Error("Expected nil services without a service manager")
	}
}

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	ok := NewDatabaseChecker(pingFunc(func(ctx context.Context) error { return nil }), "/data/db/focus.db").Check(ctx)
	if ok.Status != StatusHealthy || ok.Details["path"] != "/data/db/focus.db" {
		t.Errorf("Unexpected check: %+v", ok)
	}

	failed := NewDatabaseChecker(pingFunc(func(ctx context.Context) error { return errors.New("disk I/O error") }), "").Check(ctx)
	if failed.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", failed.Status)
	}

	missing := NewDatabaseChecker(nil, "").Check(ctx)
	if missing.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy without database, got %s", missing.Status)
	}
}

func TestDetectorChecker(t *testing.T) {
	ctx := context.Background()

	ready := NewDetectorChecker(healthFunc(func(ctx context.Context) error { return nil }), "http://localhost:8081").Check(ctx)
	if ready.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s: %s", ready.Status, ready.Message)
	}

	down := NewDetectorChecker(healthFunc(func(ctx context.Context) error { return errors.New("connection refused") }), "").Check(ctx)
	if down.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", down.Status)
	}

	none := NewDetectorChecker(nil, "").Check(ctx)
	if none.Status != StatusDegraded {
		t.Errorf("Expected degraded without detector, got %s", none.Status)
	}
}

func TestStorageChecker(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "captures")

	check := NewStorageChecker(dir, fakeDisk{percent: 40, hasSpace: true}).Check(ctx)
	if check.Status != StatusHealthy {
		t.Fatalf("Expected healthy, got %s: %s", check.Status, check.Message)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Captures directory should be created: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Write probe must not leave files behind, found %d", len(entries))
	}

	full := NewStorageChecker(dir, fakeDisk{percent: 97, hasSpace: false}).Check(ctx)
	if full.Status != StatusDegraded {
		t.Errorf("Expected degraded on full disk, got %s", full.Status)
	}

	unknown := NewStorageChecker(dir, fakeDisk{err: errors.New("statfs failed")}).Check(ctx)
	if unknown.Status != StatusDegraded {
		t.Errorf("Expected degraded when usage is unavailable, got %s", unknown.Status)
	}

	unset := NewStorageChecker("", nil).Check(ctx)
	if unset.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy without captures dir, got %s", unset.Status)
	}
}

func TestSystemChecker(t *testing.T) {
	check := (&SystemChecker{MaxMemoryPercent: 100.1}).Check(context.Background())
	if check.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s: %s", check.Status, check.Message)
	}
	if _, ok := check.Details["goroutines"]; !ok {
		t.Error("Expected goroutine count in details")
	}
}
