// Package app wires the capture pipeline, persistence and HTTP surface into
// one running process.
package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/config"
	"github.com/mgangumalla/focus/internal/health"
	"github.com/mgangumalla/focus/internal/logger"
	"github.com/mgangumalla/focus/internal/render"
	"github.com/mgangumalla/focus/internal/service"
	"github.com/mgangumalla/focus/internal/state"
	"github.com/mgangumalla/focus/internal/storage"
	"github.com/mgangumalla/focus/internal/telemetry"
	"github.com/mgangumalla/focus/internal/web"
)

// App holds the wired components
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Services *service.Manager
	Health   *health.Manager
	State    *state.Manager
	Detector ai.Detector
	Session  *capture.Session
	Store    *storage.CaptureStore
	Metrics  *telemetry.Collector
	Web      *web.Server
}

// NewRenderer builds a renderer from configuration
func NewRenderer(cfg config.RenderConfig) (*render.Renderer, error) {
	boxColor, err := render.ParseColor(cfg.BoxColor)
	if err != nil {
		return nil, fmt.Errorf("render.box_color: %w", err)
	}
	textColor, err := render.ParseColor(cfg.TextColor)
	if err != nil {
		return nil, fmt.Errorf("render.text_color: %w", err)
	}
	return render.New(render.Options{
		MaxFontSize:     cfg.MaxFontSize,
		BoxStrokeWidth:  cfg.BoxStrokeWidth,
		TextStrokeWidth: cfg.TextStrokeWidth,
		BoxColor:        boxColor,
		TextColor:       textColor,
	}), nil
}

// NewDetectorClient builds the inference service client from configuration
func NewDetectorClient(cfg config.DetectorConfig, log *logger.Logger) *ai.Client {
	return ai.NewClient(ai.ClientConfig{
		ServiceURL:          cfg.ServiceURL,
		Timeout:             cfg.Timeout,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxLabels:           cfg.MaxLabels,
		MaxInputDimension:   cfg.MaxInputDimension,
		Model:               cfg.Model,
	}, log)
}

// New builds every component. detector may be nil, in which case the
// configured inference service is used.
func New(cfg *config.Config, detector ai.Detector, log *logger.Logger) (*App, error) {
	renderer, err := NewRenderer(cfg.Focus.Render)
	if err != nil {
		return nil, err
	}

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	sc := cfg.Focus.Storage
	store, err := storage.NewCaptureStore(storage.StoreConfig{
		CapturesDir:       sc.CapturesDir,
		JPEGQuality:       sc.JPEGQuality,
		ThumbnailSize:     sc.ThumbnailSize,
		RetentionDays:     sc.RetentionDays,
		RetentionInterval: sc.RetentionPeriod,
		MaxDiskUsage:      sc.MaxDiskUsage,
	}, stateMgr, log)
	if err != nil {
		stateMgr.Close()
		return nil, err
	}

	svcMgr := service.NewManager(log)
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(&health.SystemChecker{})
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr, cfg.DatabasePath()))
	healthMgr.RegisterChecker(health.NewStorageChecker(store.CapturesDir(), store))

	metrics := telemetry.NewCollector(store, log)

	if detector == nil {
		client := NewDetectorClient(cfg.Focus.Detector, log.Named("detector"))
		metrics.SetDetectorStats(client)
		healthMgr.RegisterChecker(health.NewDetectorChecker(client, client.ServiceURL()))
		detector = client
	} else if hc, ok := detector.(ai.HealthChecker); ok {
		healthMgr.RegisterChecker(health.NewDetectorChecker(hc, ""))
	}

	pipeline := capture.NewPipeline(detector, renderer, log)
	session := capture.NewSession(pipeline, capture.SessionConfig{
		Timeout:  cfg.Focus.Capture.Timeout,
		Recorder: store,
	}, log)

	webCfg := cfg.Focus.Web
	server := web.NewServer(&webCfg, web.Dependencies{
		Session:  session,
		Store:    store,
		Captures: stateMgr,
		Metrics:  metrics,
		Health:   healthMgr,
	}, log)

	// start order: metrics first so no event is missed, storage before the
	// session that records into it, web last
	svcMgr.Register(metrics)
	svcMgr.Register(store)
	svcMgr.Register(session)
	svcMgr.Register(server)

	return &App{
		Config:   cfg,
		Logger:   log,
		Services: svcMgr,
		Health:   healthMgr,
		State:    stateMgr,
		Detector: detector,
		Session:  session,
		Store:    store,
		Metrics:  metrics,
		Web:      server,
	}, nil
}

// Start starts all services
func (a *App) Start(ctx context.Context) error {
	return a.Services.Start(ctx)
}

// Shutdown stops all services in reverse order and closes the database
func (a *App) Shutdown(ctx context.Context) error {
	return multierr.Append(a.Services.Shutdown(ctx), a.State.Close())
}
