package state

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/logger"
)

func TestNewManager(t *testing.T) {
	mgr := setupTestManager(t)

	if mgr.GetDB() == nil {
		t.Fatal("Database should be initialized")
	}
	if err := mgr.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewManagerAt_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "db", "focus.db")
	mgr, err := NewManagerAt(dbPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewManagerAt failed: %v", err)
	}
	defer mgr.Close()

	if mgr.db.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, mgr.db.Path())
	}
}

func TestManager_SystemState(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	value, err := mgr.GetSystemState(ctx, "retention.last_run")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty string for missing key, got '%s'", value)
	}

	if err := mgr.SaveSystemState(ctx, "retention.last_run", "initial"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "retention.last_run", "updated"); err != nil {
		t.Fatalf("SaveSystemState update failed: %v", err)
	}

	value, err = mgr.GetSystemState(ctx, "retention.last_run")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "updated" {
		t.Errorf("Expected 'updated', got '%s'", value)
	}
}

func testRecord(id string, created time.Time, detections int) CaptureRecord {
	results := make([]detection.ResultJSON, 0, detections)
	for i := 0; i < detections; i++ {
		results = append(results, detection.ResultJSON{
			BoundingBox: detection.BoxFromRect(image.Rect(i, i, i+10, i+10)),
			Text:        "apple, 90%",
		})
	}
	summary := ""
	if detections > 0 {
		summary = "Apple"
	}
	return CaptureRecord{
		ID:             id,
		Summary:        summary,
		DetectionCount: detections,
		Results:        results,
		OriginalPath:   "/captures/" + id + "/original.png",
		AnnotatedPath:  "/captures/" + id + "/annotated.jpg",
		ThumbnailPath:  "/captures/" + id + "/thumbnail.jpg",
		Width:          640,
		Height:         480,
		DurationMs:     42,
		CreatedAt:      created,
	}
}

func TestManager_SaveAndGetCapture(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := testRecord("cap-1", created, 2)
	if err := mgr.SaveCapture(ctx, rec); err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}

	got, err := mgr.GetCapture(ctx, "cap-1")
	if err != nil {
		t.Fatalf("GetCapture failed: %v", err)
	}

	if got.Summary != "Apple" || got.DetectionCount != 2 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if len(got.Results) != 2 || got.Results[1].BoundingBox.Left != 1 {
		t.Errorf("Results did not round-trip: %+v", got.Results)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, got.CreatedAt)
	}
	if got.ThumbnailPath != rec.ThumbnailPath {
		t.Errorf("Expected thumbnail %s, got %s", rec.ThumbnailPath, got.ThumbnailPath)
	}

	if err := mgr.SaveCapture(ctx, rec); err == nil {
		t.Error("Saving a duplicate ID should fail")
	}
}

func TestManager_SaveCapture_DetectorError(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	rec := testRecord("cap-err", time.Now(), 0)
	rec.Results = nil
	rec.ThumbnailPath = ""
	rec.DetectorErrorKind = "model_load"
	rec.DetectorError = "interpreter not ready"
	if err := mgr.SaveCapture(ctx, rec); err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}

	got, err := mgr.GetCapture(ctx, "cap-err")
	if err != nil {
		t.Fatalf("GetCapture failed: %v", err)
	}
	if got.DetectorErrorKind != "model_load" || got.DetectorError != "interpreter not ready" {
		t.Errorf("Detector error not persisted: %+v", got)
	}
	if got.Results == nil || len(got.Results) != 0 {
		t.Errorf("Expected empty results, got %#v", got.Results)
	}
	if got.ThumbnailPath != "" {
		t.Errorf("Expected no thumbnail, got %s", got.ThumbnailPath)
	}
}

func TestManager_GetCapture_NotFound(t *testing.T) {
	mgr := setupTestManager(t)

	_, err := mgr.GetCapture(context.Background(), "missing")
	if !errors.Is(err, ErrCaptureNotFound) {
		t.Fatalf("Expected ErrCaptureNotFound, got %v", err)
	}
}

func TestManager_ListCaptures(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range []int{1, 0, 3, 0, 2} {
		rec := testRecord(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), n)
		if err := mgr.SaveCapture(ctx, rec); err != nil {
			t.Fatalf("SaveCapture failed: %v", err)
		}
	}

	all, err := mgr.ListCaptures(ctx, CaptureFilter{})
	if err != nil {
		t.Fatalf("ListCaptures failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 captures, got %d", len(all))
	}
	if all[0].ID != "e" || all[4].ID != "a" {
		t.Errorf("Expected newest first, got %s..%s", all[0].ID, all[4].ID)
	}

	page, err := mgr.ListCaptures(ctx, CaptureFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListCaptures page failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != "d" || page[1].ID != "c" {
		t.Errorf("Unexpected page: %v", ids(page))
	}

	tail, err := mgr.ListCaptures(ctx, CaptureFilter{Offset: 3})
	if err != nil {
		t.Fatalf("ListCaptures offset failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("Expected 2 captures after offset, got %v", ids(tail))
	}

	yes := true
	withDetections, err := mgr.ListCaptures(ctx, CaptureFilter{HasDetections: &yes})
	if err != nil {
		t.Fatalf("ListCaptures filter failed: %v", err)
	}
	if len(withDetections) != 3 {
		t.Errorf("Expected 3 captures with detections, got %v", ids(withDetections))
	}

	window, err := mgr.ListCaptures(ctx, CaptureFilter{After: base.Add(time.Hour), Before: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("ListCaptures window failed: %v", err)
	}
	if len(window) != 2 || window[0].ID != "c" || window[1].ID != "b" {
		t.Errorf("Unexpected window: %v", ids(window))
	}

	no := false
	n, err := mgr.CountCaptures(ctx, CaptureFilter{HasDetections: &no, Limit: 1})
	if err != nil {
		t.Fatalf("CountCaptures failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 captures without detections, got %d", n)
	}
}

func TestManager_ListCapturesBefore(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	now := time.Now()
	for i, age := range []time.Duration{10 * 24 * time.Hour, 8 * 24 * time.Hour, time.Hour} {
		rec := testRecord(string(rune('a'+i)), now.Add(-age), 1)
		if err := mgr.SaveCapture(ctx, rec); err != nil {
			t.Fatalf("SaveCapture failed: %v", err)
		}
	}

	old, err := mgr.ListCapturesBefore(ctx, now.Add(-7*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListCapturesBefore failed: %v", err)
	}
	if len(old) != 2 || old[0].ID != "a" || old[1].ID != "b" {
		t.Errorf("Expected [a b] oldest first, got %v", ids(old))
	}

	limited, err := mgr.ListCapturesBefore(ctx, now, 1)
	if err != nil {
		t.Fatalf("ListCapturesBefore failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %v", ids(limited))
	}
}

func TestManager_DeleteCapture(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	if err := mgr.SaveCapture(ctx, testRecord("cap-1", time.Now(), 1)); err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}

	if err := mgr.DeleteCapture(ctx, "cap-1"); err != nil {
		t.Fatalf("DeleteCapture failed: %v", err)
	}
	if _, err := mgr.GetCapture(ctx, "cap-1"); !errors.Is(err, ErrCaptureNotFound) {
		t.Errorf("Expected capture to be gone, got %v", err)
	}
	if err := mgr.DeleteCapture(ctx, "cap-1"); !errors.Is(err, ErrCaptureNotFound) {
		t.Errorf("Expected ErrCaptureNotFound on second delete, got %v", err)
	}
}

func ids(recs []CaptureRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
