package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/app"
	"github.com/mgangumalla/focus/internal/config"
	"github.com/mgangumalla/focus/internal/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath, replayPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&replayPath, "replay", "", "Serve detections from a JSON file instead of the inference service")
	flag.Parse()

	cfgSvc, err := config.NewService(configPath, logger.NewNopLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfgSvc.SetLogger(log)

	log.Info("Starting focus",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"data_dir", cfg.Focus.DataDir,
	)

	var detector ai.Detector
	if replayPath != "" {
		replay, err := ai.LoadReplayDetector(replayPath)
		if err != nil {
			log.Error("Failed to load replay detections", "path", replayPath, "error", err)
			os.Exit(1)
		}
		log.Info("Using replayed detections", "path", replayPath)
		detector = replay
	}

	a, err := app.New(cfg, detector, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	a.Web.SetVersion(version)

	cfgSvc.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		if !reflect.DeepEqual(oldConfig.Focus, newConfig.Focus) {
			log.Warn("Configuration changed on disk; restart to apply")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		a.Shutdown(shutdownCtx)
		shutdownCancel()
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Warn("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig.String())
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}
