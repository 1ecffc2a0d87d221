package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	if c.Focus.DataDir == "" {
		errors = append(errors, "focus.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Detector
	d := c.Focus.Detector
	if d.ServiceURL == "" {
		errors = append(errors, "detector.service_url is required")
	} else if u, err := url.Parse(d.ServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("detector.service_url must be an absolute URL, got: %s", d.ServiceURL))
	}
	if t := d.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		errors = append(errors, fmt.Sprintf("detector.confidence_threshold must be between 0 and 1, got: %.2f", *t))
	}
	if d.MaxLabels < 0 {
		errors = append(errors, fmt.Sprintf("detector.max_labels must be >= 0, got: %d", d.MaxLabels))
	}
	if d.MaxInputDimension < 0 {
		errors = append(errors, fmt.Sprintf("detector.max_input_dimension must be >= 0, got: %d", d.MaxInputDimension))
	}
	if d.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("detector.timeout must be > 0, got: %v", d.Timeout))
	}

	// Render
	r := c.Focus.Render
	if r.MaxFontSize <= 0 {
		errors = append(errors, fmt.Sprintf("render.max_font_size must be > 0, got: %.2f", r.MaxFontSize))
	}
	if r.BoxStrokeWidth <= 0 {
		errors = append(errors, fmt.Sprintf("render.box_stroke_width must be > 0, got: %.2f", r.BoxStrokeWidth))
	}
	if r.TextStrokeWidth < 0 {
		errors = append(errors, fmt.Sprintf("render.text_stroke_width must be >= 0, got: %.2f", r.TextStrokeWidth))
	}
	if _, err := colorful.Hex(r.BoxColor); err != nil {
		errors = append(errors, fmt.Sprintf("render.box_color must be a hex color, got: %s", r.BoxColor))
	}
	if _, err := colorful.Hex(r.TextColor); err != nil {
		errors = append(errors, fmt.Sprintf("render.text_color must be a hex color, got: %s", r.TextColor))
	}

	if c.Focus.Capture.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("capture.timeout must be > 0, got: %v", c.Focus.Capture.Timeout))
	}

	// Storage
	s := c.Focus.Storage
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("storage.jpeg_quality must be between 1 and 100, got: %d", s.JPEGQuality))
	}
	if s.ThumbnailSize <= 0 {
		errors = append(errors, fmt.Sprintf("storage.thumbnail_size must be > 0, got: %d", s.ThumbnailSize))
	}
	if s.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("storage.retention_days must be >= 0, got: %d", s.RetentionDays))
	}
	if s.RetentionPeriod <= 0 {
		errors = append(errors, fmt.Sprintf("storage.retention_interval must be > 0, got: %v", s.RetentionPeriod))
	}
	if s.MaxDiskUsage <= 0 || s.MaxDiskUsage > 100 {
		errors = append(errors, fmt.Sprintf("storage.max_disk_usage_percent must be in (0, 100], got: %v", s.MaxDiskUsage))
	}

	if s.CapturesDir == "" {
		errors = append(errors, "storage.captures_dir is required")
	}

	if c.Focus.Web.Enabled && (c.Focus.Web.Port < 0 || c.Focus.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 0 and 65535, got: %d", c.Focus.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
