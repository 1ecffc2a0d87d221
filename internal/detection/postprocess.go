package detection

// Postprocessor filters or modifies a sequence of raw detections.
type Postprocessor func([]RawDetection) []RawDetection

// NewScoreFilter returns a Postprocessor that drops labels below the given
// confidence. Detections are kept even when all their labels are dropped, so
// Format still sees them and skips them.
func NewScoreFilter(threshold float64) Postprocessor {
	return func(in []RawDetection) []RawDetection {
		out := make([]RawDetection, 0, len(in))
		for _, d := range in {
			labels := make([]Label, 0, len(d.Labels))
			for _, l := range d.Labels {
				if l.Confidence >= threshold {
					labels = append(labels, l)
				}
			}
			out = append(out, RawDetection{BoundingBox: d.BoundingBox, Labels: labels})
		}
		return out
	}
}

// NewLabelLimit returns a Postprocessor that keeps at most n labels per
// detection. n <= 0 disables the limit.
func NewLabelLimit(n int) Postprocessor {
	return func(in []RawDetection) []RawDetection {
		if n <= 0 {
			return in
		}
		out := make([]RawDetection, 0, len(in))
		for _, d := range in {
			labels := d.Labels
			if len(labels) > n {
				labels = append([]Label(nil), labels[:n]...)
			}
			out = append(out, RawDetection{BoundingBox: d.BoundingBox, Labels: labels})
		}
		return out
	}
}

// Chain applies the postprocessors in order. Nil entries are skipped.
func Chain(pp ...Postprocessor) Postprocessor {
	return func(in []RawDetection) []RawDetection {
		for _, p := range pp {
			if p != nil {
				in = p(in)
			}
		}
		return in
	}
}
