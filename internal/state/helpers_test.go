package state

import (
	"testing"

	"github.com/mgangumalla/focus/internal/config"
	"github.com/mgangumalla/focus/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := &config.Config{}
	cfg.Focus.DataDir = t.TempDir()

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stdout"})

	mgr, err := NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}
