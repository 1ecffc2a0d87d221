package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nfnt/resize"

	"github.com/mgangumalla/focus/internal/detection"
	"github.com/mgangumalla/focus/internal/logger"
)

const (
	defaultConfidenceThreshold = 0.5
	defaultMaxLabels           = 3
	uploadJPEGQuality          = 90
)

// Client is an HTTP client for the inference service
type Client struct {
	serviceURL        string
	httpClient        *http.Client
	logger            *logger.Logger
	threshold         float64
	maxLabels         int
	maxInputDimension int
	model             string
	postprocess       detection.Postprocessor
}

// ClientConfig contains configuration for the inference client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold *float64 // nil uses the default; 0 keeps every label
	MaxLabels           int    // Labels kept per object; 0 uses the default
	MaxInputDimension   int    // Longest side sent to the service; 0 disables downscaling
	Model               string // Model asset name forwarded to the service
}

// NewClient creates a new inference service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	threshold := defaultConfidenceThreshold
	if config.ConfidenceThreshold != nil {
		threshold = *config.ConfidenceThreshold
	}
	if config.MaxLabels == 0 {
		config.MaxLabels = defaultMaxLabels
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:            log,
		threshold:         threshold,
		maxLabels:         config.MaxLabels,
		maxInputDimension: config.MaxInputDimension,
		model:             config.Model,
		postprocess: detection.Chain(
			detection.NewScoreFilter(threshold),
			detection.NewLabelLimit(config.MaxLabels),
		),
	}
}

// Detect encodes img, sends it to the inference service and converts the
// response into raw detections in img's coordinate space.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]detection.RawDetection, error) {
	bounds := img.Bounds()
	upload, scaleX, scaleY := c.prepare(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, upload, &jpeg.Options{Quality: uploadJPEGQuality}); err != nil {
		return nil, NewFailure(FailureInference, fmt.Errorf("failed to encode image: %w", err))
	}

	resp, err := c.Infer(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}

	raw := make([]detection.RawDetection, 0, len(resp.BoundingBoxes))
	for _, bb := range resp.BoundingBoxes {
		raw = append(raw, detection.RawDetection{
			BoundingBox: image.Rect(
				bounds.Min.X+int(math.Round(bb.X1*scaleX)),
				bounds.Min.Y+int(math.Round(bb.Y1*scaleY)),
				bounds.Min.X+int(math.Round(bb.X2*scaleX)),
				bounds.Min.Y+int(math.Round(bb.Y2*scaleY)),
			),
			Labels: labelsOf(bb),
		})
	}

	return c.postprocess(raw), nil
}

// prepare downscales img so its longest side fits maxInputDimension and
// returns the factors mapping upload pixels back to source pixels.
func (c *Client) prepare(img image.Image) (image.Image, float64, float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if c.maxInputDimension <= 0 || longest <= c.maxInputDimension || w == 0 || h == 0 {
		return img, 1, 1
	}

	ratio := float64(c.maxInputDimension) / float64(longest)
	nw := uint(math.Max(1, math.Round(float64(w)*ratio)))
	nh := uint(math.Max(1, math.Round(float64(h)*ratio)))
	resized := resize.Resize(nw, nh, img, resize.Bilinear)

	c.logger.Debug("Downscaled image for inference",
		"from_width", w, "from_height", h,
		"to_width", nw, "to_height", nh,
	)
	return resized, float64(w) / float64(nw), float64(h) / float64(nh)
}

// labelsOf returns the labels of one box, highest confidence first
func labelsOf(bb BoundingBox) []detection.Label {
	var labels []detection.Label
	if len(bb.Labels) > 0 {
		labels = make([]detection.Label, 0, len(bb.Labels))
		for _, l := range bb.Labels {
			text := l.Text
			if text == "" {
				text = l.ClassName
			}
			labels = append(labels, detection.Label{Text: text, Confidence: l.Confidence})
		}
	} else if bb.ClassName != "" {
		labels = []detection.Label{{Text: bb.ClassName, Confidence: bb.Confidence}}
	}

	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Confidence > labels[j].Confidence
	})
	return labels
}

// Infer sends one JPEG-encoded image to the inference service
func (c *Client) Infer(ctx context.Context, jpegData []byte) (*InferenceResponse, error) {
	threshold := c.threshold
	req := InferenceRequest{
		Image:               base64.StdEncoding.EncodeToString(jpegData),
		ConfidenceThreshold: &threshold,
		MaxLabels:           c.maxLabels,
		Model:               c.model,
		Mode:                singleImageMode,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, NewFailure(FailureInference, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/api/v1/inference", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewFailure(FailureInference, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending inference request", "url", url, "model", c.model)
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewFailure(FailureInference, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	requestDuration := time.Since(startTime)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewFailure(FailureInference, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(
			"Inference service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		kind := FailureInference
		if resp.StatusCode == http.StatusServiceUnavailable {
			kind = FailureModelLoad
		}
		return nil, NewFailure(kind, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, NewFailure(FailureDecode, fmt.Errorf("failed to parse response: %w", err))
	}

	c.logger.Debug(
		"Inference completed",
		"detection_count", len(inferenceResp.BoundingBoxes),
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", requestDuration.Milliseconds(),
	)

	return &inferenceResp, nil
}

// GetStats retrieves inference statistics from the inference service
func (c *Client) GetStats(ctx context.Context) (*InferenceStats, error) {
	url := fmt.Sprintf("%s/api/v1/inference/stats", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	var stats InferenceStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &stats, nil
}

// HealthCheck checks if the inference service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// ServiceURL returns the configured inference service URL
func (c *Client) ServiceURL() string {
	return c.serviceURL
}
