package monitor

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"geowatch/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrSessionFinalized is returned when finishing a session that already
	// reached a terminal state.
	ErrSessionFinalized = errors.New("alert session already finalized")
)

// ComparisonUpdate is everything one tile group's comparison writes. It is
// applied in a single transaction.
type ComparisonUpdate struct {
	SessionID      string
	CaptureID      string
	Status         model.CaptureStatus
	LastComparedAt sql.NullTime
	ChangeDetected sql.NullBool

	// Compared is set when a pair was actually run through the detector; it
	// bumps the session's tiles_compared counter (and tiles_errored when
	// Status is ERROR).
	Compared bool

	// Detail is non-nil only for CHANGED verdicts. Inserting it also bumps the
	// session's total_changes_detected counter.
	Detail *model.AlertDetail
}

// SessionOutcome carries the values written when a session is finalized.
type SessionOutcome struct {
	Status               model.SessionStatus
	FinishedAt           time.Time
	TotalChangesDetected int64
	TilesCompared        int64
	TilesErrored         int64
}

// Database is the transactional record store behind the pipeline.
type Database interface {
	// Area operations

	// CreateArea inserts a new area definition.
	CreateArea(ctx context.Context, area *model.AreaConfig) error

	// GetArea returns an area by ID, or ErrNotFound.
	GetArea(ctx context.Context, id string) (*model.AreaConfig, error)

	// ListAreas returns every area, oldest first.
	ListAreas(ctx context.Context) ([]*model.AreaConfig, error)

	// Tile capture operations

	// CreateTileCapture records a newly stored image for a tile.
	CreateTileCapture(ctx context.Context, capture *model.TileCapture) error

	// ListTileCapturesForArea returns all captures of an area ordered by tile
	// key, then by capture time descending.
	ListTileCapturesForArea(ctx context.Context, areaID string) ([]*model.TileCapture, error)

	// ApplyComparison atomically updates a capture's comparison state and,
	// for changed tiles, inserts the alert detail and bumps session counters.
	ApplyComparison(ctx context.Context, update ComparisonUpdate) error

	// Alert session operations

	// CreateAlertSession inserts a session in the IN_PROGRESS state.
	CreateAlertSession(ctx context.Context, session *model.AlertSession) error

	// FinishAlertSession moves an IN_PROGRESS session to a terminal state.
	// Returns ErrSessionFinalized if the session is already terminal.
	FinishAlertSession(ctx context.Context, id string, outcome SessionOutcome) error

	// MarkNotificationSent records whether the completion notification was delivered.
	MarkNotificationSent(ctx context.Context, id string, sent bool) error

	// GetAlertSession returns a session by ID, or ErrNotFound.
	GetAlertSession(ctx context.Context, id string) (*model.AlertSession, error)

	// ListAlertSessions returns the newest sessions first. An empty areaID
	// lists sessions across all areas.
	ListAlertSessions(ctx context.Context, areaID string, limit int) ([]*model.AlertSession, error)

	// ListAlertDetails returns the details recorded in a session, oldest first.
	ListAlertDetails(ctx context.Context, sessionID string) ([]*model.AlertDetail, error)

	// Monitor pass operations

	// CreateMonitorPass inserts a pass in the running state.
	CreateMonitorPass(ctx context.Context, pass *model.MonitorPass) error

	// FinishMonitorPass writes the pass's final status and counters.
	FinishMonitorPass(ctx context.Context, pass *model.MonitorPass) error

	// ListMonitorPasses returns the most recent passes, newest first.
	ListMonitorPasses(ctx context.Context, limit int) ([]*model.MonitorPass, error)

	// Job lock operations

	// AcquireLock takes the named lease for holder until now+ttl. It succeeds
	// when the lease is free, expired, or already held by holder.
	AcquireLock(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseLock drops the named lease if holder owns it.
	ReleaseLock(ctx context.Context, name, holder string) error

	// Close closes the database connection.
	Close() error
}
