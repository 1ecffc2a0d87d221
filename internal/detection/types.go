package detection

import (
	"encoding/json"
	"image"
)

// Label is one candidate classification for a detected object.
type Label struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0, not validated
}

// RawDetection is unprocessed detector output: a box in image pixel
// coordinates plus its candidate labels, highest confidence first by
// convention. Labels may be empty.
type RawDetection struct {
	BoundingBox image.Rectangle
	Labels      []Label
}

type rawDetectionJSON struct {
	BoundingBox Box     `json:"bounding_box"`
	Labels      []Label `json:"labels"`
}

// MarshalJSON encodes the box as left/top/right/bottom.
func (d RawDetection) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawDetectionJSON{BoundingBox: BoxFromRect(d.BoundingBox), Labels: d.Labels})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (d *RawDetection) UnmarshalJSON(data []byte) error {
	var raw rawDetectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.BoundingBox = raw.BoundingBox.Rect()
	d.Labels = raw.Labels
	return nil
}

// DetectionResult is a drawable annotation produced by Format. Its fields are
// fixed at construction.
type DetectionResult struct {
	boundingBox image.Rectangle
	text        string
}

// NewDetectionResult creates a drawable annotation.
func NewDetectionResult(box image.Rectangle, text string) DetectionResult {
	return DetectionResult{boundingBox: box, text: text}
}

// BoundingBox returns the annotated area in image pixel coordinates.
func (r DetectionResult) BoundingBox() image.Rectangle {
	return r.boundingBox
}

// Text returns the pre-formatted label text.
func (r DetectionResult) Text() string {
	return r.text
}

// Box is the JSON shape of a rectangle on the wire and in the capture store.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// BoxFromRect converts an image.Rectangle to its wire form.
func BoxFromRect(r image.Rectangle) Box {
	return Box{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}

// Rect converts the wire form back to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// ResultJSON is the serialized form of a DetectionResult.
type ResultJSON struct {
	BoundingBox Box    `json:"bounding_box"`
	Text        string `json:"text"`
}

// ToJSON converts results to their serialized form, preserving order.
func ToJSON(results []DetectionResult) []ResultJSON {
	out := make([]ResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, ResultJSON{BoundingBox: BoxFromRect(r.boundingBox), Text: r.text})
	}
	return out
}
