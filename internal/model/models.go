package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CaptureStatus is the lifecycle state of a TileCapture.
type CaptureStatus string

const (
	CaptureCaptured CaptureStatus = "CAPTURED"
	CaptureCompared CaptureStatus = "COMPARED"
	CaptureChanged  CaptureStatus = "CHANGED"
	CaptureNoChange CaptureStatus = "NO_CHANGE"
	CaptureError    CaptureStatus = "ERROR"
)

// SessionStatus is the lifecycle state of an AlertSession.
type SessionStatus string

const (
	SessionInProgress       SessionStatus = "IN_PROGRESS"
	SessionChangesDetected  SessionStatus = "COMPLETED_CHANGES_DETECTED"
	SessionNoChanges        SessionStatus = "COMPLETED_NO_CHANGES"
	SessionCompletedInError SessionStatus = "COMPLETED_ERROR"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionChangesDetected, SessionNoChanges, SessionCompletedInError:
		return true
	}
	return false
}

// AreaConfig is a user-defined region of interest: a center point plus four
// directional extents in kilometers.
type AreaConfig struct {
	ID        string // UUID
	Name      string
	CenterLat float64
	CenterLon float64
	NorthKm   float64
	SouthKm   float64
	EastKm    float64
	WestKm    float64
	CreatedAt time.Time
}

// Validate checks coordinates and extents.
func (a *AreaConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("area name is required")
	}
	if a.CenterLat <= -90 || a.CenterLat >= 90 {
		return fmt.Errorf("center latitude %v out of range (-90, 90)", a.CenterLat)
	}
	if a.CenterLon < -180 || a.CenterLon > 180 {
		return fmt.Errorf("center longitude %v out of range [-180, 180]", a.CenterLon)
	}
	for name, v := range map[string]float64{"north": a.NorthKm, "south": a.SouthKm, "east": a.EastKm, "west": a.WestKm} {
		if v < 0 {
			return fmt.Errorf("%s extent must be >= 0, got %v", name, v)
		}
	}
	return nil
}

// TileCapture is one timestamped image snapshot of one grid cell.
type TileCapture struct {
	ID             string // UUID
	AreaID         string // Foreign key to AreaConfig
	TileKey        string // Stable identity of the physical cell
	Latitude       float64
	Longitude      float64
	CapturedAt     time.Time
	ImageRef       string // Key in the image store
	Status         CaptureStatus
	LastComparedAt sql.NullTime
	ChangeDetected sql.NullBool
}

// AlertSession records the outcome of one comparison run over an area.
type AlertSession struct {
	ID                   string // UUID
	AreaID               string // Foreign key to AreaConfig
	StartedAt            time.Time
	FinishedAt           sql.NullTime
	Status               SessionStatus
	TotalChangesDetected int64
	TilesCompared        int64
	TilesErrored         int64
	NotificationSent     bool
}

// ChangeLog is the structured payload stored with each AlertDetail.
type ChangeLog struct {
	Changed       bool    `json:"changed"`
	ChangePercent float64 `json:"change_percent"`
	Message       string  `json:"message"`
	Error         bool    `json:"error,omitempty"`
}

// MarshalText encodes the change log as JSON for storage.
func (c ChangeLog) MarshalText() ([]byte, error) {
	type plain ChangeLog
	return json.Marshal(plain(c))
}

// UnmarshalText decodes a stored JSON change log.
func (c *ChangeLog) UnmarshalText(data []byte) error {
	type plain ChangeLog
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding change log: %w", err)
	}
	*c = ChangeLog(p)
	return nil
}

// AlertDetail records one detected change within a session.
type AlertDetail struct {
	ID               string // UUID
	SessionID        string // Foreign key to AlertSession
	TileCaptureID    string // The newer capture of the compared pair
	PreviousImageRef string
	CurrentImageRef  string
	ChangeLog        ChangeLog
	CreatedAt        time.Time
}

// PassStatus is the outcome of one scheduler firing.
type PassStatus string

const (
	PassRunning PassStatus = "running"
	PassSuccess PassStatus = "success"
	PassPartial PassStatus = "partial" // at least one area failed
	PassError   PassStatus = "error"   // area enumeration failed
)

// MonitorPass tracks one scheduler firing across all areas.
type MonitorPass struct {
	ID          string // UUID
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Status      PassStatus
	AreasTotal  int64
	AreasFailed int64
}
