package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/health"
	"github.com/mgangumalla/focus/internal/state"
	"github.com/mgangumalla/focus/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// detectorErrorResponse describes a failed detector call
type detectorErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// outcomeResponse is the API form of a capture outcome
type outcomeResponse struct {
	ID             string                 `json:"id"`
	Summary        string                 `json:"summary"`
	DisplaySummary string                 `json:"display_summary"`
	Results        []detection.ResultJSON `json:"results"`
	DetectorError  *detectorErrorResponse `json:"detector_error"`
	Width          int                    `json:"width"`
	Height         int                    `json:"height"`
	DurationMs     int64                  `json:"duration_ms"`
	CompletedAt    time.Time              `json:"completed_at"`
	AnnotatedURL   string                 `json:"annotated_url"`
}

func newOutcomeResponse(o *capture.Outcome) *outcomeResponse {
	if o == nil {
		return nil
	}
	resp := &outcomeResponse{
		ID:             o.ID,
		Summary:        o.Summary,
		DisplaySummary: o.DisplaySummary(),
		Results:        detection.ToJSON(o.Results),
		DurationMs:     o.Duration().Milliseconds(),
		CompletedAt:    o.CompletedAt,
		AnnotatedURL:   "/api/captures/" + o.ID + "/image",
	}
	if o.Original != nil {
		resp.Width = o.Original.Bounds().Dx()
		resp.Height = o.Original.Bounds().Dy()
	}
	if o.Err != nil {
		resp.DetectorError = &detectorErrorResponse{Kind: string(o.Err.Kind), Message: o.Err.Error()}
	}
	return resp
}

// recordResponse is the API form of a stored capture
type recordResponse struct {
	state.CaptureRecord
	DisplaySummary string `json:"display_summary"`
	AnnotatedURL   string `json:"annotated_url"`
	ThumbnailURL   string `json:"thumbnail_url"`
}

func newRecordResponse(rec *state.CaptureRecord) recordResponse {
	base := "/api/captures/" + rec.ID + "/image"
	return recordResponse{
		CaptureRecord:  *rec,
		DisplaySummary: detection.DisplaySummary(rec.Summary),
		AnnotatedURL:   base,
		ThumbnailURL:   base + "?variant=" + string(storage.VariantThumbnail),
	}
}

// handleHealth runs all health checks
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy, "service": s.Name()})
		return
	}

	report := s.deps.Health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if !report.Ready() {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleLiveness answers as long as the process serves requests
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)
	resp := gin.H{
		"version":           s.version,
		"uptime":            uptime.Round(time.Second).String(),
		"uptime_seconds":    int64(uptime.Seconds()),
		"websocket_clients": s.hub.GetClientCount(),
		"timestamp":         time.Now().Format(time.RFC3339),
	}
	if s.deps.Health != nil {
		resp["services"] = s.deps.Health.Services()
	}
	c.JSON(http.StatusOK, resp)
}

// handleMetrics returns capture counters and host metrics
func (s *Server) handleMetrics(c *gin.Context) {
	if s.deps.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics not available"})
		return
	}
	metrics, err := s.deps.Metrics.Collect(c.Request.Context())
	if err != nil {
		s.LogError("Failed to collect metrics", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) sessionResponse() gin.H {
	status := s.deps.Session.Snapshot()
	resp := gin.H{
		"mode": status.Mode,
		"last": newOutcomeResponse(status.Last),
	}
	if status.PendingID != "" {
		resp["pending_id"] = status.PendingID
	}
	return resp
}

// handleGetSession returns the current mode and last outcome
func (s *Server) handleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionResponse())
}

// handleResetSession cancels any in-flight capture and returns to preview
func (s *Server) handleResetSession(c *gin.Context) {
	s.deps.Session.Reset()
	c.JSON(http.StatusOK, s.sessionResponse())
}

// handleCreateCapture decodes the uploaded image and runs a capture. By
// default it waits for the outcome; with wait=false it answers 202 and the
// outcome arrives over the websocket.
func (s *Server) handleCreateCapture(c *gin.Context) {
	wait := true
	if v := c.Query("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wait must be a boolean"})
			return
		}
		wait = parsed
	}

	img, err := s.readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, outcomes, err := s.deps.Session.Submit(c.Request.Context(), img)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrCaptureInProgress), errors.Is(err, capture.ErrNotInPreview):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, capture.ErrNoImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.LogError("Failed to start capture", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start capture"})
		}
		return
	}

	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"capture_id": id, "mode": capture.ModeProcessing})
		return
	}

	select {
	case outcome, ok := <-outcomes:
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "capture was discarded by a session reset", "capture_id": id})
			return
		}
		c.JSON(http.StatusCreated, newOutcomeResponse(outcome))
	case <-c.Request.Context().Done():
		// the capture keeps running; its outcome still reaches the session
		s.LogDebug("Client left before capture completed", "capture_id", id)
	}
}

// readImage decodes a multipart "image" field or the raw request body
func (s *Server) readImage(c *gin.Context) (image.Image, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	r := io.Reader(c.Request.Body)
	if c.ContentType() == "multipart/form-data" {
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("multipart upload needs an image field: %w", err)
		}
		defer file.Close()
		r = file
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, capture.ErrNoImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// handleListCaptures lists stored captures, newest first
func (s *Server) handleListCaptures(c *gin.Context) {
	if s.deps.Captures == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture history not available"})
		return
	}

	filter := state.CaptureFilter{Limit: defaultListLimit}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = min(limit, maxListLimit)
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if v := c.Query("has_detections"); v != "" {
		if has, err := strconv.ParseBool(v); err == nil {
			filter.HasDetections = &has
		}
	}
	if v := c.Query("after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.After = t
		}
	}
	if v := c.Query("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Before = t
		}
	}

	ctx := c.Request.Context()
	records, err := s.deps.Captures.ListCaptures(ctx, filter)
	if err != nil {
		s.LogError("Failed to list captures", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list captures"})
		return
	}
	total, err := s.deps.Captures.CountCaptures(ctx, filter)
	if err != nil {
		s.LogError("Failed to count captures", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list captures"})
		return
	}

	captures := make([]recordResponse, 0, len(records))
	for i := range records {
		captures = append(captures, newRecordResponse(&records[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"captures": captures,
		"count":    len(captures),
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// handleGetCapture returns one stored capture
func (s *Server) handleGetCapture(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture store not available"})
		return
	}

	id := c.Param("id")
	rec, err := s.deps.Store.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, err, id)
		return
	}
	c.JSON(http.StatusOK, newRecordResponse(rec))
}

// handleGetCaptureImage serves one image variant of a stored capture
func (s *Server) handleGetCaptureImage(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture store not available"})
		return
	}

	id := c.Param("id")
	variant := storage.Variant(c.DefaultQuery("variant", string(storage.VariantAnnotated)))
	path, err := s.deps.Store.ImagePath(c.Request.Context(), id, variant)
	if err != nil {
		s.storeError(c, err, id)
		return
	}

	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image file not found"})
		return
	}
	c.File(path)
}

// handleDeleteCapture removes a stored capture and its files
func (s *Server) handleDeleteCapture(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture store not available"})
		return
	}

	id := c.Param("id")
	if err := s.deps.Store.Delete(c.Request.Context(), id); err != nil {
		s.storeError(c, err, id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) storeError(c *gin.Context, err error, id string) {
	switch {
	case errors.Is(err, state.ErrCaptureNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
	case errors.Is(err, storage.ErrUnknownVariant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.LogError("Capture store request failed", err, "capture_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Capture store request failed"})
	}
}

// handleWebSocket upgrades the connection and streams session events
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.LogDebug("WebSocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	hubCancel := s.hubCancel
	s.mu.Unlock()
	if hubCancel == nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub not running"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// detached: the request context ends with the hijack
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	registered := s.hub.Register(ctx, conn)
	cancel()
	if !registered {
		conn.Close()
		return
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// clients only send control frames; reading processes pongs and closes
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), writeWait)
	s.hub.Unregister(ctx, conn)
	cancel()
}
