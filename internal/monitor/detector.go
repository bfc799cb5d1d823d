package monitor

import "geowatch/internal/detect"

// ChangeDetector compares two encoded images of the same tile.
type ChangeDetector interface {
	Compare(previous, current []byte) detect.Result
}

var _ ChangeDetector = (*detect.Detector)(nil)
