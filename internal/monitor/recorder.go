package monitor

import (
	"time"

	"geowatch/internal/model"
)

// Recorder receives pipeline events for metrics collection.
type Recorder interface {
	TileCaptured(ok bool)
	TileCompared(status model.CaptureStatus)
	SessionFinished(status model.SessionStatus)
	NotificationSent(ok bool)
	PassFinished(status model.PassStatus, elapsed time.Duration)
	PassSkipped()
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) TileCaptured(bool)                            {}
func (NopRecorder) TileCompared(model.CaptureStatus)             {}
func (NopRecorder) SessionFinished(model.SessionStatus)          {}
func (NopRecorder) NotificationSent(bool)                        {}
func (NopRecorder) PassFinished(model.PassStatus, time.Duration) {}
func (NopRecorder) PassSkipped()                                 {}
