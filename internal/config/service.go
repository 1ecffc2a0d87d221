package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/mgangumalla/focus/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service. A .env file in the working
// directory, if present, is loaded before environment overrides are applied;
// variables already set in the process environment win.
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := loadResolved(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// NewStaticService wraps an already built configuration
func NewStaticService(cfg *Config, log *logger.Logger) *Service {
	return &Service{config: cfg, logger: log}
}

func loadResolved(configPath string) (*Config, error) {
	LoadDotEnv()

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given env files (default ".env") without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	if s.configPath == "" {
		return fmt.Errorf("configuration was not loaded from a file")
	}

	newConfig, err := loadResolved(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.mu.Lock()
	oldConfig := s.config
	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	log := s.logger
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}

	log.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// SetLogger replaces the logger used for reload messages
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("FOCUS_DATA_DIR"); val != "" {
		cfg.Focus.DataDir = val
	}

	// Detector settings
	if val := os.Getenv("FOCUS_DETECTOR_SERVICE_URL"); val != "" {
		cfg.Focus.Detector.ServiceURL = val
	}
	if val := os.Getenv("FOCUS_DETECTOR_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Focus.Detector.Timeout = d
		}
	}
	if val := os.Getenv("FOCUS_DETECTOR_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := parseFloat64(val); err == nil {
			cfg.Focus.Detector.ConfidenceThreshold = &threshold
		}
	}
	if val := os.Getenv("FOCUS_DETECTOR_MAX_LABELS"); val != "" {
		if n, err := parseInt(val); err == nil {
			cfg.Focus.Detector.MaxLabels = n
		}
	}
	if val := os.Getenv("FOCUS_DETECTOR_MODEL"); val != "" {
		cfg.Focus.Detector.Model = val
	}

	// Render settings
	if val := os.Getenv("FOCUS_RENDER_MAX_FONT_SIZE"); val != "" {
		if size, err := parseFloat64(val); err == nil {
			cfg.Focus.Render.MaxFontSize = size
		}
	}
	if val := os.Getenv("FOCUS_RENDER_BOX_COLOR"); val != "" {
		cfg.Focus.Render.BoxColor = val
	}
	if val := os.Getenv("FOCUS_RENDER_TEXT_COLOR"); val != "" {
		cfg.Focus.Render.TextColor = val
	}

	if val := os.Getenv("FOCUS_CAPTURE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Focus.Capture.Timeout = d
		}
	}

	// Storage settings
	if val := os.Getenv("FOCUS_STORAGE_CAPTURES_DIR"); val != "" {
		cfg.Focus.Storage.CapturesDir = val
	}
	if val := os.Getenv("FOCUS_STORAGE_RETENTION_DAYS"); val != "" {
		if days, err := parseInt(val); err == nil {
			cfg.Focus.Storage.RetentionDays = days
		}
	}

	// Web settings
	cfg.Focus.Web.Enabled = GetEnvBool("FOCUS_WEB_ENABLED", cfg.Focus.Web.Enabled)
	if val := os.Getenv("FOCUS_WEB_HOST"); val != "" {
		cfg.Focus.Web.Host = val
	}
	if val := os.Getenv("FOCUS_WEB_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.Focus.Web.Port = port
		}
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// Helper functions for parsing environment variables
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

func parseFloat64(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	return result, err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}
