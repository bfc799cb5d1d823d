package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"geowatch/internal/database/migrations"
	"geowatch/internal/model"
	"geowatch/internal/monitor"
)

// SQLDatabase implements monitor.Database on SQLite or MySQL. Queries are
// written to run unchanged on both.
type SQLDatabase struct {
	db      *sql.DB
	dialect string
	path    string
}

var _ monitor.Database = (*SQLDatabase)(nil)

// timeLayout is fixed-width so stored timestamps also sort as text.
const timeLayout = "2006-01-02 15:04:05.000000"

func dbTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func dbNullTime(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return dbTime(t.Time)
}

// isDuplicateKey reports whether err is a primary key or unique violation.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// forUpdate locks selected rows inside a transaction where the engine
// supports it. SQLite locks the whole database on write instead.
func (s *SQLDatabase) forUpdate() string {
	if s.dialect == migrations.MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// Area operations

const areaColumns = "id, name, center_lat, center_lon, north_km, south_km, east_km, west_km, created_at"

func scanArea(row interface{ Scan(...any) error }) (*model.AreaConfig, error) {
	var a model.AreaConfig
	if err := row.Scan(&a.ID, &a.Name, &a.CenterLat, &a.CenterLon, &a.NorthKm, &a.SouthKm, &a.EastKm, &a.WestKm, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLDatabase) CreateArea(ctx context.Context, area *model.AreaConfig) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO area_configs ("+areaColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		area.ID, area.Name, area.CenterLat, area.CenterLon,
		area.NorthKm, area.SouthKm, area.EastKm, area.WestKm, dbTime(area.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting area: %w", err)
	}
	return nil
}

func (s *SQLDatabase) GetArea(ctx context.Context, id string) (*model.AreaConfig, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+areaColumns+" FROM area_configs WHERE id = ?", id)
	area, err := scanArea(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, monitor.ErrNotFound
		}
		return nil, fmt.Errorf("getting area: %w", err)
	}
	return area, nil
}

func (s *SQLDatabase) ListAreas(ctx context.Context) ([]*model.AreaConfig, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+areaColumns+" FROM area_configs ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing areas: %w", err)
	}
	defer rows.Close()

	var areas []*model.AreaConfig
	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning area: %w", err)
		}
		areas = append(areas, area)
	}
	return areas, rows.Err()
}

// Tile capture operations

const captureColumns = "id, area_id, tile_key, latitude, longitude, captured_at, image_ref, status, last_compared_at, change_detected"

func (s *SQLDatabase) CreateTileCapture(ctx context.Context, c *model.TileCapture) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tile_captures ("+captureColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.AreaID, c.TileKey, c.Latitude, c.Longitude, dbTime(c.CapturedAt),
		c.ImageRef, string(c.Status), dbNullTime(c.LastComparedAt), c.ChangeDetected)
	if err != nil {
		return fmt.Errorf("inserting tile capture: %w", err)
	}
	return nil
}

func (s *SQLDatabase) ListTileCapturesForArea(ctx context.Context, areaID string) ([]*model.TileCapture, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+captureColumns+" FROM tile_captures WHERE area_id = ? ORDER BY tile_key, captured_at DESC, id DESC",
		areaID)
	if err != nil {
		return nil, fmt.Errorf("listing tile captures: %w", err)
	}
	defer rows.Close()

	var captures []*model.TileCapture
	for rows.Next() {
		var c model.TileCapture
		var status string
		if err := rows.Scan(&c.ID, &c.AreaID, &c.TileKey, &c.Latitude, &c.Longitude, &c.CapturedAt,
			&c.ImageRef, &status, &c.LastComparedAt, &c.ChangeDetected); err != nil {
			return nil, fmt.Errorf("scanning tile capture: %w", err)
		}
		c.Status = model.CaptureStatus(status)
		captures = append(captures, &c)
	}
	return captures, rows.Err()
}

func (s *SQLDatabase) ApplyComparison(ctx context.Context, u monitor.ComparisonUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE tile_captures SET status = ?, last_compared_at = ?, change_detected = ? WHERE id = ?",
		string(u.Status), dbNullTime(u.LastComparedAt), u.ChangeDetected, u.CaptureID)
	if err != nil {
		return fmt.Errorf("updating tile capture: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tile capture %s: %w", u.CaptureID, monitor.ErrNotFound)
	}

	var changes, compared, errored int64
	if u.Compared {
		compared = 1
		if u.Status == model.CaptureError {
			errored = 1
		}
	}

	if u.Detail != nil {
		changeLog, err := u.Detail.ChangeLog.MarshalText()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO alert_details (id, session_id, tile_capture_id, previous_image_ref, current_image_ref, change_log, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.Detail.ID, u.Detail.SessionID, u.Detail.TileCaptureID, u.Detail.PreviousImageRef,
			u.Detail.CurrentImageRef, string(changeLog), dbTime(u.Detail.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting alert detail: %w", err)
		}
		changes = 1
	}

	if changes+compared+errored > 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE alert_sessions
			SET total_changes_detected = total_changes_detected + ?,
				tiles_compared = tiles_compared + ?,
				tiles_errored = tiles_errored + ?
			WHERE id = ? AND status = ?`,
			changes, compared, errored, u.SessionID, string(model.SessionInProgress))
		if err != nil {
			return fmt.Errorf("updating session counters: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("session %s: %w", u.SessionID, monitor.ErrSessionFinalized)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Alert session operations

const sessionColumns = "id, area_id, started_at, finished_at, status, total_changes_detected, tiles_compared, tiles_errored, notification_sent"

func scanSession(row interface{ Scan(...any) error }) (*model.AlertSession, error) {
	var a model.AlertSession
	var status string
	if err := row.Scan(&a.ID, &a.AreaID, &a.StartedAt, &a.FinishedAt, &status,
		&a.TotalChangesDetected, &a.TilesCompared, &a.TilesErrored, &a.NotificationSent); err != nil {
		return nil, err
	}
	a.Status = model.SessionStatus(status)
	return &a, nil
}

func (s *SQLDatabase) CreateAlertSession(ctx context.Context, a *model.AlertSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO alert_sessions ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.AreaID, dbTime(a.StartedAt), dbNullTime(a.FinishedAt), string(a.Status),
		a.TotalChangesDetected, a.TilesCompared, a.TilesErrored, a.NotificationSent)
	if err != nil {
		return fmt.Errorf("inserting alert session: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FinishAlertSession(ctx context.Context, id string, o monitor.SessionOutcome) error {
	if !o.Status.Terminal() {
		return fmt.Errorf("finishing session with non-terminal status %s", o.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM alert_sessions WHERE id = ?"+s.forUpdate(), id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return monitor.ErrNotFound
		}
		return fmt.Errorf("reading session status: %w", err)
	}
	if model.SessionStatus(status) != model.SessionInProgress {
		return monitor.ErrSessionFinalized
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE alert_sessions
		SET status = ?, finished_at = ?, total_changes_detected = ?, tiles_compared = ?, tiles_errored = ?
		WHERE id = ?`,
		string(o.Status), dbTime(o.FinishedAt), o.TotalChangesDetected, o.TilesCompared, o.TilesErrored, id)
	if err != nil {
		return fmt.Errorf("finishing alert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLDatabase) MarkNotificationSent(ctx context.Context, id string, sent bool) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE alert_sessions SET notification_sent = ? WHERE id = ?", sent, id); err != nil {
		return fmt.Errorf("marking notification: %w", err)
	}
	return nil
}

func (s *SQLDatabase) GetAlertSession(ctx context.Context, id string) (*model.AlertSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM alert_sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, monitor.ErrNotFound
		}
		return nil, fmt.Errorf("getting alert session: %w", err)
	}
	return session, nil
}

func (s *SQLDatabase) ListAlertSessions(ctx context.Context, areaID string, limit int) ([]*model.AlertSession, error) {
	query := "SELECT " + sessionColumns + " FROM alert_sessions"
	var args []any
	if areaID != "" {
		query += " WHERE area_id = ?"
		args = append(args, areaID)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limitOrDefault(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alert sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.AlertSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLDatabase) ListAlertDetails(ctx context.Context, sessionID string) ([]*model.AlertDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tile_capture_id, previous_image_ref, current_image_ref, change_log, created_at
		FROM alert_details WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing alert details: %w", err)
	}
	defer rows.Close()

	var details []*model.AlertDetail
	for rows.Next() {
		var d model.AlertDetail
		var changeLog []byte
		if err := rows.Scan(&d.ID, &d.SessionID, &d.TileCaptureID, &d.PreviousImageRef,
			&d.CurrentImageRef, &changeLog, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert detail: %w", err)
		}
		if err := d.ChangeLog.UnmarshalText(changeLog); err != nil {
			return nil, err
		}
		details = append(details, &d)
	}
	return details, rows.Err()
}

// Monitor pass operations

func (s *SQLDatabase) CreateMonitorPass(ctx context.Context, p *model.MonitorPass) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO monitor_passes (id, started_at, finished_at, status, areas_total, areas_failed) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, dbTime(p.StartedAt), dbNullTime(p.FinishedAt), string(p.Status), p.AreasTotal, p.AreasFailed)
	if err != nil {
		return fmt.Errorf("inserting monitor pass: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FinishMonitorPass(ctx context.Context, p *model.MonitorPass) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE monitor_passes SET finished_at = ?, status = ?, areas_total = ?, areas_failed = ? WHERE id = ?",
		dbNullTime(p.FinishedAt), string(p.Status), p.AreasTotal, p.AreasFailed, p.ID)
	if err != nil {
		return fmt.Errorf("finishing monitor pass: %w", err)
	}
	return nil
}

func (s *SQLDatabase) ListMonitorPasses(ctx context.Context, limit int) ([]*model.MonitorPass, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started_at, finished_at, status, areas_total, areas_failed FROM monitor_passes ORDER BY started_at DESC, id DESC LIMIT ?",
		limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("listing monitor passes: %w", err)
	}
	defer rows.Close()

	var passes []*model.MonitorPass
	for rows.Next() {
		var p model.MonitorPass
		var status string
		if err := rows.Scan(&p.ID, &p.StartedAt, &p.FinishedAt, &status, &p.AreasTotal, &p.AreasFailed); err != nil {
			return nil, fmt.Errorf("scanning monitor pass: %w", err)
		}
		p.Status = model.PassStatus(status)
		passes = append(passes, &p)
	}
	return passes, rows.Err()
}

// Job lock operations

func (s *SQLDatabase) AcquireLock(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	expires := dbTime(now.Add(ttl))

	var current string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT holder, expires_at FROM job_locks WHERE name = ?"+s.forUpdate(), name).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, "INSERT INTO job_locks (name, holder, expires_at) VALUES (?, ?, ?)", name, holder, expires)
		if err != nil {
			if isDuplicateKey(err) {
				return false, nil
			}
			return false, fmt.Errorf("inserting job lock: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("reading job lock: %w", err)
	default:
		if current != holder && expiresAt.After(now) {
			return false, nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE job_locks SET holder = ?, expires_at = ? WHERE name = ?", holder, expires, name)
		if err != nil {
			return false, fmt.Errorf("taking over job lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

func (s *SQLDatabase) ReleaseLock(ctx context.Context, name, holder string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job_locks WHERE name = ? AND holder = ?", name, holder); err != nil {
		return fmt.Errorf("releasing job lock: %w", err)
	}
	return nil
}

// Utility

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

// Path returns the file backing a SQLite store, or "" otherwise.
func (s *SQLDatabase) Path() string {
	return s.path
}

// Dialect returns the migration dialect of the store.
func (s *SQLDatabase) Dialect() string {
	return s.dialect
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.Check(s.db, s.dialect)
}

// Ping checks the connection is alive.
func (s *SQLDatabase) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
