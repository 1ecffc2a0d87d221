package main

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgangumalla/focus/internal/config"
	"github.com/mgangumalla/focus/internal/logger"
)

func TestRun_ReplayedDetections(t *testing.T) {
	dir := t.TempDir()

	imagePath := filepath.Join(dir, "in.png")
	f, err := os.Create(imagePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 160, 120))))
	require.NoError(t, f.Close())

	detectionsPath := filepath.Join(dir, "detections.json")
	require.NoError(t, os.WriteFile(detectionsPath, []byte(`[
		{"bounding_box": {"left": 10, "top": 10, "right": 90, "bottom": 80},
		 "labels": [{"text": "corn flakes", "confidence": 0.66}]}
	]`), 0644))

	outPath := filepath.Join(dir, "out.jpg")
	require.NoError(t, run(config.Default(), imagePath, detectionsPath, "", outPath, logger.NewNopLogger()))

	out, err := os.Open(outPath)
	require.NoError(t, err)
	defer out.Close()
	cfg, format, err := image.DecodeConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 160, cfg.Width)
	assert.Equal(t, 120, cfg.Height)
}

func TestRun_MissingImage(t *testing.T) {
	err := run(config.Default(), filepath.Join(t.TempDir(), "nope.png"), "", "", "out.png", logger.NewNopLogger())
	assert.Error(t, err)
}
