package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mgangumalla/focus/internal/detection"
)

// ErrCaptureNotFound is returned when no capture has the requested ID
var ErrCaptureNotFound = errors.New("capture not found")

// CaptureRecord is the persisted form of one capture outcome
type CaptureRecord struct {
	ID                string                 `json:"id"`
	Summary           string                 `json:"summary"`
	DetectionCount    int                    `json:"detection_count"`
	Results           []detection.ResultJSON `json:"results"`
	DetectorErrorKind string                 `json:"detector_error_kind,omitempty"`
	DetectorError     string                 `json:"detector_error,omitempty"`
	OriginalPath      string                 `json:"-"`
	AnnotatedPath     string                 `json:"-"`
	ThumbnailPath     string                 `json:"-"`
	Width             int                    `json:"width"`
	Height            int                    `json:"height"`
	DurationMs        int64                  `json:"duration_ms"`
	CreatedAt         time.Time              `json:"created_at"`
}

// CaptureFilter narrows ListCaptures. Zero values disable a filter.
type CaptureFilter struct {
	Limit         int
	Offset        int
	After         time.Time // created at or after
	Before        time.Time // created strictly before
	HasDetections *bool
}

const captureColumns = `id, summary, detection_count, results, detector_error_kind, detector_error,
	original_path, annotated_path, thumbnail_path, width, height, duration_ms, created_at`

// SaveCapture inserts a capture record
func (m *Manager) SaveCapture(ctx context.Context, rec CaptureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Results == nil {
		rec.Results = []detection.ResultJSON{}
	}
	resultsJSON, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO captures (` + captureColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.Summary, rec.DetectionCount, string(resultsJSON),
		nullString(rec.DetectorErrorKind), nullString(rec.DetectorError),
		rec.OriginalPath, rec.AnnotatedPath, nullString(rec.ThumbnailPath),
		rec.Width, rec.Height, rec.DurationMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save capture: %w", err)
	}

	return nil
}

// GetCapture retrieves a capture by ID
func (m *Manager) GetCapture(ctx context.Context, id string) (*CaptureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.GetDB().QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	rec, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCaptureNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture: %w", err)
	}
	return rec, nil
}

// ListCaptures returns captures newest first
func (m *Manager) ListCaptures(ctx context.Context, filter CaptureFilter) ([]CaptureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	where, args := filter.where()
	query := `SELECT ` + captureColumns + ` FROM captures` + where + ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}

	return m.queryCaptures(ctx, query, args...)
}

// CountCaptures returns how many captures match the filter; paging is ignored
func (m *Manager) CountCaptures(ctx context.Context, filter CaptureFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	where, args := filter.where()
	var n int
	if err := m.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}

// ListCapturesBefore returns up to limit captures created before t, oldest first
func (m *Manager) ListCapturesBefore(ctx context.Context, t time.Time, limit int) ([]CaptureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + captureColumns + ` FROM captures WHERE created_at < ? ORDER BY created_at ASC LIMIT ?`
	return m.queryCaptures(ctx, query, t.UTC(), limit)
}

// DeleteCapture removes a capture record
func (m *Manager) DeleteCapture(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete capture: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete capture: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCaptureNotFound, id)
	}
	return nil
}

func (f CaptureFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if !f.After.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.After.UTC())
	}
	if !f.Before.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.Before.UTC())
	}
	if f.HasDetections != nil {
		if *f.HasDetections {
			conds = append(conds, "detection_count > 0")
		} else {
			conds = append(conds, "detection_count = 0")
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (m *Manager) queryCaptures(ctx context.Context, query string, args ...interface{}) ([]CaptureRecord, error) {
	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer rows.Close()

	records := make([]CaptureRecord, 0)
	for rows.Next() {
		rec, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(row rowScanner) (*CaptureRecord, error) {
	var rec CaptureRecord
	var resultsJSON string
	var errKind, errText, thumb sql.NullString

	if err := row.Scan(
		&rec.ID, &rec.Summary, &rec.DetectionCount, &resultsJSON, &errKind, &errText,
		&rec.OriginalPath, &rec.AnnotatedPath, &thumb,
		&rec.Width, &rec.Height, &rec.DurationMs, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(resultsJSON), &rec.Results); err != nil {
		return nil, fmt.Errorf("failed to parse results of capture %s: %w", rec.ID, err)
	}
	rec.DetectorErrorKind = errKind.String
	rec.DetectorError = errText.String
	rec.ThumbnailPath = thumb.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
