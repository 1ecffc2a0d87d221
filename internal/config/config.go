package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Focus FocusConfig `yaml:"focus"`
	Log   LogConfig   `yaml:"log,omitempty"`
}

// FocusConfig contains the capture/classify/annotate settings
type FocusConfig struct {
	DataDir  string         `yaml:"data_dir"`
	Detector DetectorConfig `yaml:"detector"`
	Render   RenderConfig   `yaml:"render"`
	Capture  CaptureConfig  `yaml:"capture"`
	Storage  StorageConfig  `yaml:"storage"`
	Web      WebConfig      `yaml:"web"`
}

// DetectorConfig contains object detector configuration
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold *float64      `yaml:"confidence_threshold"` // 0 keeps every label
	MaxLabels           int           `yaml:"max_labels"`           // Per detected object
	MaxInputDimension   int           `yaml:"max_input_dimension"`  // Larger images are downscaled before upload
	Model               string        `yaml:"model"`                // Bundled model asset name
}

// RenderConfig contains overlay drawing configuration
type RenderConfig struct {
	MaxFontSize     float64 `yaml:"max_font_size"`
	BoxStrokeWidth  float64 `yaml:"box_stroke_width"`
	TextStrokeWidth float64 `yaml:"text_stroke_width"`
	BoxColor        string  `yaml:"box_color"`  // Hex, e.g. "#ff0000"
	TextColor       string  `yaml:"text_color"` // Hex, e.g. "#ffff00"
}

// CaptureConfig contains capture session configuration
type CaptureConfig struct {
	Timeout time.Duration `yaml:"timeout"` // Upper bound for one detect+render cycle
}

// StorageConfig contains capture storage configuration
type StorageConfig struct {
	CapturesDir     string        `yaml:"captures_dir"`
	JPEGQuality     int           `yaml:"jpeg_quality"`
	ThumbnailSize   int           `yaml:"thumbnail_size"`
	RetentionDays   int           `yaml:"retention_days"`
	RetentionPeriod time.Duration `yaml:"retention_interval"` // How often retention runs
	MaxDiskUsage    float64       `yaml:"max_disk_usage_percent"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.SetDefaults()

	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.Focus.Web.Enabled = true
	cfg.SetDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.dev.yaml",
		"../config/config.yaml",
		"/etc/focus/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// SetDefaults fills unset values with defaults
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Focus.DataDir == "" {
		c.Focus.DataDir = "./data"
	}

	d := &c.Focus.Detector
	if d.ServiceURL == "" {
		d.ServiceURL = "http://localhost:8081"
	}
	if d.Timeout == 0 {
		d.Timeout = 30 * time.Second
	}
	if d.ConfidenceThreshold == nil {
		threshold := 0.5
		d.ConfidenceThreshold = &threshold
	}
	if d.MaxLabels == 0 {
		d.MaxLabels = 3
	}
	if d.MaxInputDimension == 0 {
		d.MaxInputDimension = 1280
	}
	if d.Model == "" {
		d.Model = "cereal_model.tflite"
	}

	r := &c.Focus.Render
	if r.MaxFontSize == 0 {
		r.MaxFontSize = 80
	}
	if r.BoxStrokeWidth == 0 {
		r.BoxStrokeWidth = 6
	}
	if r.TextStrokeWidth == 0 {
		r.TextStrokeWidth = 2
	}
	if r.BoxColor == "" {
		r.BoxColor = "#ff0000"
	}
	if r.TextColor == "" {
		r.TextColor = "#ffff00"
	}

	if c.Focus.Capture.Timeout == 0 {
		c.Focus.Capture.Timeout = 45 * time.Second
	}

	s := &c.Focus.Storage
	if s.CapturesDir == "" {
		s.CapturesDir = filepath.Join(c.Focus.DataDir, "captures")
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = 90
	}
	if s.ThumbnailSize == 0 {
		s.ThumbnailSize = 320
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = 7
	}
	if s.RetentionPeriod == 0 {
		s.RetentionPeriod = time.Hour
	}
	if s.MaxDiskUsage == 0 {
		s.MaxDiskUsage = 90
	}

	if c.Focus.Web.Host == "" {
		c.Focus.Web.Host = "0.0.0.0"
	}
	if c.Focus.Web.Port == 0 {
		c.Focus.Web.Port = 8080
	}
}

// DatabasePath returns the SQLite database location under the data directory
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Focus.DataDir, "db", "focus.db")
}
