// Package storage keeps the images of every recorded capture on disk next to
// its row in the state database, and enforces retention.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/service"
	"github.com/mgangumalla/focus/internal/state"
)

// Variant selects one of the stored images of a capture
type Variant string

const (
	VariantAnnotated Variant = "annotated"
	VariantOriginal  Variant = "original"
	VariantThumbnail Variant = "thumbnail"
)

var (
	// ErrUnknownVariant is returned for an image variant the store does not keep
	ErrUnknownVariant = errors.New("unknown image variant")
	// ErrDiskFull is returned by Record when disk usage is above the limit
	ErrDiskFull = errors.New("disk usage above limit")
)

// Repository is the capture persistence the store records into.
// *state.Manager implements it.
type Repository interface {
	SaveCapture(ctx context.Context, rec state.CaptureRecord) error
	GetCapture(ctx context.Context, id string) (*state.CaptureRecord, error)
	DeleteCapture(ctx context.Context, id string) error
	ListCapturesBefore(ctx context.Context, t time.Time, limit int) ([]state.CaptureRecord, error)
	SaveSystemState(ctx context.Context, key, value string) error
}

// StoreConfig contains capture store configuration
type StoreConfig struct {
	CapturesDir       string
	JPEGQuality       int           // 1-100, default 90
	ThumbnailSize     int           // max thumbnail dimension, default 320
	RetentionDays     int           // 0 disables retention
	RetentionInterval time.Duration // default 1h
	MaxDiskUsage      float64       // percent, default 90
}

// CaptureStore writes capture images under
// <captures_dir>/<YYYY-MM-DD>/<id>/ and records them in the repository
type CaptureStore struct {
	*service.ServiceBase

	repo        Repository
	capturesDir string
	images      imageWriter
	retention   *RetentionPolicy
	interval    time.Duration
	diskMonitor *DiskMonitor

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCaptureStore creates the captures directory and the store
func NewCaptureStore(cfg StoreConfig, repo Repository, log *logger.Logger) (*CaptureStore, error) {
	if cfg.CapturesDir == "" {
		return nil, fmt.Errorf("captures directory is required")
	}
	if err := os.MkdirAll(cfg.CapturesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create captures directory: %w", err)
	}

	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = time.Hour
	}
	if cfg.MaxDiskUsage <= 0 {
		cfg.MaxDiskUsage = 90
	}

	s := &CaptureStore{
		ServiceBase: service.NewServiceBase("capture-store", log),
		repo:        repo,
		capturesDir: cfg.CapturesDir,
		images:      newImageWriter(cfg.JPEGQuality, cfg.ThumbnailSize),
		interval:    cfg.RetentionInterval,
		diskMonitor: NewDiskMonitor(cfg.CapturesDir, cfg.MaxDiskUsage, log),
	}
	s.retention = NewRetentionPolicy(cfg.RetentionDays, repo, s.remove, log)

	log.Info("Capture store initialized",
		"captures_dir", cfg.CapturesDir,
		"jpeg_quality", s.images.quality,
		"thumbnail_size", s.images.thumbnailSize,
		"retention_days", cfg.RetentionDays,
		"max_disk_usage_percent", cfg.MaxDiskUsage,
	)

	return s, nil
}

// Start runs the retention loop until Stop
func (s *CaptureStore) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.retentionLoop(loopCtx)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Capture store started", "retention_interval", s.interval)
	return nil
}

// Stop ends the retention loop
func (s *CaptureStore) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Capture store stopped")
	return nil
}

func (s *CaptureStore) retentionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *CaptureStore) sweep(ctx context.Context) {
	deleted, err := s.EnforceRetention(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.LogWarn("Retention sweep failed", "error", err)
		}
		return
	}
	s.PublishEvent(service.EventTypeRetentionSweep, map[string]interface{}{
		"deleted": deleted,
	})
}

// EnforceRetention deletes captures older than the retention period and
// returns how many were removed
func (s *CaptureStore) EnforceRetention(ctx context.Context) (int, error) {
	return s.retention.Enforce(ctx)
}

// Record writes the outcome's images and inserts its record. Files are
// removed again when the insert fails.
func (s *CaptureStore) Record(ctx context.Context, outcome *capture.Outcome) error {
	if outcome == nil || outcome.Original == nil || outcome.Annotated == nil {
		return fmt.Errorf("outcome has no images")
	}

	full, err := s.diskMonitor.IsDiskFull(ctx)
	if err != nil {
		s.LogWarn("Disk usage check failed", "error", err)
	} else if full {
		return ErrDiskFull
	}

	dir := filepath.Join(s.capturesDir, outcome.StartedAt.Format("2006-01-02"), outcome.ID)
	paths, err := s.images.write(dir, outcome.Original, outcome.Annotated)
	if err != nil {
		return multierr.Append(err, os.RemoveAll(dir))
	}

	bounds := outcome.Original.Bounds()
	rec := state.CaptureRecord{
		ID:             outcome.ID,
		Summary:        outcome.Summary,
		DetectionCount: len(outcome.Results),
		Results:        detection.ToJSON(outcome.Results),
		OriginalPath:   paths.original,
		AnnotatedPath:  paths.annotated,
		ThumbnailPath:  paths.thumbnail,
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		DurationMs:     outcome.Duration().Milliseconds(),
		CreatedAt:      outcome.CompletedAt,
	}
	if outcome.Err != nil {
		rec.DetectorErrorKind = string(outcome.Err.Kind)
		rec.DetectorError = outcome.Err.Error()
	}

	if err := s.repo.SaveCapture(ctx, rec); err != nil {
		err = fmt.Errorf("failed to save capture record: %w", err)
		return multierr.Append(err, os.RemoveAll(dir))
	}

	s.LogDebug("Capture stored", "capture_id", outcome.ID, "dir", dir)
	s.PublishEvent(service.EventTypeCaptureStored, map[string]interface{}{
		"capture_id":      outcome.ID,
		"summary":         outcome.Summary,
		"detection_count": rec.DetectionCount,
	})
	return nil
}

// Get returns the record of a stored capture
func (s *CaptureStore) Get(ctx context.Context, id string) (*state.CaptureRecord, error) {
	return s.repo.GetCapture(ctx, id)
}

// ImagePath returns the file holding the requested variant of a capture
func (s *CaptureStore) ImagePath(ctx context.Context, id string, variant Variant) (string, error) {
	rec, err := s.repo.GetCapture(ctx, id)
	if err != nil {
		return "", err
	}

	var path string
	switch variant {
	case VariantAnnotated, "":
		path = rec.AnnotatedPath
	case VariantOriginal:
		path = rec.OriginalPath
	case VariantThumbnail:
		path = rec.ThumbnailPath
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	if path == "" {
		return "", fmt.Errorf("%w: %s has no %s image", state.ErrCaptureNotFound, id, variant)
	}
	return path, nil
}

// Delete removes a capture's files and record
func (s *CaptureStore) Delete(ctx context.Context, id string) error {
	rec, err := s.repo.GetCapture(ctx, id)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, rec); err != nil {
		return err
	}
	s.LogInfo("Capture deleted", "capture_id", id)
	return nil
}

// remove deletes the files first so a failure leaves the row pointing at
// whatever is left
func (s *CaptureStore) remove(ctx context.Context, rec *state.CaptureRecord) error {
	dir := s.captureDir(rec)
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove capture files: %w", err)
		}
		// drop the date directory once its last capture is gone
		_ = os.Remove(filepath.Dir(dir))
	}

	if err := s.repo.DeleteCapture(ctx, rec.ID); err != nil {
		return err
	}

	s.PublishEvent(service.EventTypeCaptureDeleted, map[string]interface{}{
		"capture_id": rec.ID,
	})
	return nil
}

// captureDir returns the directory holding the capture's images, only when
// it lies inside the captures directory
func (s *CaptureStore) captureDir(rec *state.CaptureRecord) string {
	if rec.OriginalPath == "" {
		return ""
	}
	dir := filepath.Dir(rec.OriginalPath)
	rel, err := filepath.Rel(s.capturesDir, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return dir
}

// CapturesDir returns the root directory of stored captures
func (s *CaptureStore) CapturesDir() string {
	return s.capturesDir
}

// DiskUsage returns usage of the filesystem holding the captures directory
func (s *CaptureStore) DiskUsage(ctx context.Context) (*DiskUsage, error) {
	return s.diskMonitor.GetUsage(ctx)
}

// CheckDiskSpace reports whether usage is below the configured limit
func (s *CaptureStore) CheckDiskSpace(ctx context.Context) (bool, error) {
	return s.diskMonitor.CheckSpace(ctx)
}
