package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/state"
)

// LastRunKey is the system state key holding the time of the last sweep
const LastRunKey = "retention.last_run"

const retentionBatchSize = 100

// ErrRetentionRunning is returned when a sweep is already in progress
var ErrRetentionRunning = errors.New("retention policy is already being enforced")

// RetentionPolicy deletes captures older than the retention period
type RetentionPolicy struct {
	retentionDays int
	repo          Repository
	remove        func(ctx context.Context, rec *state.CaptureRecord) error
	logger        *logger.Logger
	now           func() time.Time

	mu        sync.Mutex
	enforcing bool
}

// NewRetentionPolicy creates a retention policy. retentionDays <= 0
// keeps captures forever.
func NewRetentionPolicy(retentionDays int, repo Repository, remove func(ctx context.Context, rec *state.CaptureRecord) error, log *logger.Logger) *RetentionPolicy {
	return &RetentionPolicy{
		retentionDays: retentionDays,
		repo:          repo,
		remove:        remove,
		logger:        log,
		now:           time.Now,
	}
}

// Cutoff returns the creation time before which captures expire
func (r *RetentionPolicy) Cutoff() time.Time {
	return r.now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
}

// Enforce deletes expired captures oldest first and returns how many were
// removed. A capture that fails to delete is logged and skipped.
func (r *RetentionPolicy) Enforce(ctx context.Context) (int, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}

	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return 0, ErrRetentionRunning
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	cutoff := r.Cutoff()
	deleted := 0
	skipped := make(map[string]bool)

	for {
		limit := retentionBatchSize + len(skipped)
		batch, err := r.repo.ListCapturesBefore(ctx, cutoff, limit)
		if err != nil {
			return deleted, fmt.Errorf("failed to list expired captures: %w", err)
		}

		progressed := false
		for i := range batch {
			if ctx.Err() != nil {
				return deleted, ctx.Err()
			}
			rec := &batch[i]
			if skipped[rec.ID] {
				continue
			}
			if err := r.remove(ctx, rec); err != nil && !errors.Is(err, state.ErrCaptureNotFound) {
				r.logger.Warn("Failed to delete expired capture", "capture_id", rec.ID, "error", err)
				skipped[rec.ID] = true
				continue
			}
			deleted++
			progressed = true
		}

		if !progressed || len(batch) < limit {
			break
		}
	}

	if err := r.repo.SaveSystemState(ctx, LastRunKey, r.now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Warn("Failed to save retention state", "error", err)
	}

	if deleted > 0 {
		r.logger.Info("Deleted expired captures", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
