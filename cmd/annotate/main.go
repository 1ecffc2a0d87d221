// Command annotate runs one capture cycle on an image file and writes the
// annotated copy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/mgangumalla/focus/internal/ai"
	"github.com/mgangumalla/focus/internal/app"
	"github.com/mgangumalla/focus/internal/capture"
	"github.com/mgangumalla/focus/internal/config"
	"github.com/mgangumalla/focus/internal/logger"
)

func main() {
	var (
		imagePath      string
		detectionsPath string
		serviceURL     string
		outPath        string
		configPath     string
		verbose        bool
	)
	flag.StringVar(&imagePath, "image", "", "Input image (JPEG, PNG, WebP, BMP, GIF, TIFF)")
	flag.StringVar(&detectionsPath, "detections", "", "Detections JSON file to replay instead of calling the inference service")
	flag.StringVar(&serviceURL, "service-url", "", "Inference service URL (overrides configuration)")
	flag.StringVar(&outPath, "out", "annotated.png", "Output image; format follows the extension")
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&verbose, "v", false, "Log pipeline details to stderr")
	flag.Parse()

	if imagePath == "" {
		fmt.Fprintln(os.Stderr, "annotate: -image is required")
		flag.Usage()
		os.Exit(2)
	}

	cfgSvc, err := config.NewService(configPath, logger.NewNopLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log := logger.NewNopLogger()
	if verbose {
		log, err = logger.New(logger.LogConfig{Level: "debug", Format: "text", Output: "stderr"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()
	}

	if err := run(cfg, imagePath, detectionsPath, serviceURL, outPath, log); err != nil {
		fmt.Fprintf(os.Stderr, "annotate: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, imagePath, detectionsPath, serviceURL, outPath string, log *logger.Logger) error {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	var detector ai.Detector
	if detectionsPath != "" {
		detector, err = ai.LoadReplayDetector(detectionsPath)
		if err != nil {
			return err
		}
	} else {
		dc := cfg.Focus.Detector
		if serviceURL != "" {
			dc.ServiceURL = serviceURL
		}
		detector = app.NewDetectorClient(dc, log.Named("detector"))
	}

	renderer, err := app.NewRenderer(cfg.Focus.Render)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Focus.Capture.Timeout)
	defer cancel()

	outcome := capture.NewPipeline(detector, renderer, log).Run(ctx, img)
	if outcome.Err != nil {
		fmt.Fprintf(os.Stderr, "detector failed (%s): %v\n", outcome.Err.Kind, outcome.Err.Err)
	}

	if err := imaging.Save(outcome.Annotated, outPath, imaging.JPEGQuality(cfg.Focus.Storage.JPEGQuality)); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	fmt.Println(outcome.DisplaySummary())
	for _, r := range outcome.Results {
		fmt.Printf("  %-24s %v\n", r.Text(), r.BoundingBox())
	}
	log.Debug("Annotated image written", "path", outPath, "duration", outcome.Duration().Round(time.Millisecond))
	return nil
}
