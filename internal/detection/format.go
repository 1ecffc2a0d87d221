package detection

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// SummaryPrefix is shown before a non-empty summary.
	SummaryPrefix = "Classified as: "
	// NoClassification replaces an empty summary in the display layer.
	NoClassification = "No Classification Available"
	// SummarySeparator joins the labels of consecutive detections.
	SummarySeparator = ", "
)

// Format turns raw detections into a summary string and the ordered list of
// drawable results. Detections without labels contribute to neither. Only the
// first label of each detection is used.
//
// The summary joins those labels with SummarySeparator; the first non-blank
// entry is trimmed and capitalized, later entries are kept verbatim. Blank
// labels ahead of it are left out of the summary. Result text is
// "<label>, <confidence*100 rounded>%". Confidence values outside [0,1] are
// passed through.
func Format(raw []RawDetection) (string, []DetectionResult) {
	var summary strings.Builder
	results := make([]DetectionResult, 0, len(raw))

	for _, d := range raw {
		if len(d.Labels) == 0 {
			continue
		}
		top := d.Labels[0]

		if summary.Len() == 0 {
			summary.WriteString(capitalize(strings.TrimSpace(top.Text)))
		} else {
			summary.WriteString(SummarySeparator)
			summary.WriteString(top.Text)
		}

		results = append(results, NewDetectionResult(d.BoundingBox, LabelText(top)))
	}

	return summary.String(), results
}

// LabelText renders one label as "<text>, <percent>%".
func LabelText(l Label) string {
	return fmt.Sprintf("%s, %s%%", l.Text, formatPercent(l.Confidence))
}

// DisplaySummary returns the string the display layer shows for a summary.
func DisplaySummary(summary string) string {
	if summary == "" {
		return NoClassification
	}
	return SummaryPrefix + summary
}

func formatPercent(confidence float64) string {
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		return fmt.Sprint(confidence)
	}
	return fmt.Sprintf("%.0f", math.Round(confidence*100))
}

// capitalize upper-cases the first rune, leaving the rest untouched.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToTitle(r)) + s[size:]
}
