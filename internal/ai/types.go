package ai

// InferenceRequest represents a request to the inference service
type InferenceRequest struct {
	Image               string   `json:"image"`                          // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // Optional override
	MaxLabels           int      `json:"max_labels,omitempty"`           // Labels per object
	Model               string   `json:"model,omitempty"`                // Model asset name
	Mode                string   `json:"mode"`                           // Always "single_image"
}

// ScoredLabel is one classification candidate of a detected object
type ScoredLabel struct {
	Text       string  `json:"text"`
	ClassName  string  `json:"class_name,omitempty"` // Accepted when text is absent
	Confidence float64 `json:"confidence"`
}

// BoundingBox represents a detected object's bounding box
type BoundingBox struct {
	X1         float64       `json:"x1"`                   // Left coordinate
	Y1         float64       `json:"y1"`                   // Top coordinate
	X2         float64       `json:"x2"`                   // Right coordinate
	Y2         float64       `json:"y2"`                   // Bottom coordinate
	Labels     []ScoredLabel `json:"labels,omitempty"`     // Multi-label form
	Confidence float64       `json:"confidence,omitempty"` // Single-label form
	ClassID    int           `json:"class_id,omitempty"`
	ClassName  string        `json:"class_name,omitempty"` // Single-label form
}

// InferenceResponse represents the response from the inference service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`    // Detected objects
	InferenceTimeMs float64       `json:"inference_time_ms"` // Inference duration
	FrameShape      []int         `json:"frame_shape"`       // [height, width]
	DetectionCount  int           `json:"detection_count"`   // Number of detections
}

// InferenceStats represents inference statistics
type InferenceStats struct {
	TotalInferences int     `json:"total_inferences"`
	TotalTimeMs     float64 `json:"total_time_ms"`
	AverageTimeMs   float64 `json:"average_time_ms"`
}

// singleImageMode is the only detector running mode used
const singleImageMode = "single_image"
