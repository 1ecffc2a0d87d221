package ai

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a detection could not be produced
type FailureKind string

const (
	FailureModelLoad FailureKind = "model_load" // model or service not ready
	FailureInference FailureKind = "inference"  // the inference call failed
	FailureDecode    FailureKind = "decode"     // the detector output was unreadable
)

// DetectionFailure is returned by detectors when no detection sequence can
// be produced. Callers treat it as an empty sequence.
type DetectionFailure struct {
	Kind FailureKind
	Err  error
}

func (f *DetectionFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("detection failed (%s)", f.Kind)
	}
	return fmt.Sprintf("detection failed (%s): %v", f.Kind, f.Err)
}

func (f *DetectionFailure) Unwrap() error {
	return f.Err
}

// NewFailure wraps err as a DetectionFailure of the given kind
func NewFailure(kind FailureKind, err error) *DetectionFailure {
	return &DetectionFailure{Kind: kind, Err: err}
}

// AsFailure reports whether err is (or wraps) a DetectionFailure
func AsFailure(err error) (*DetectionFailure, bool) {
	var f *DetectionFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
