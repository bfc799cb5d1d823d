package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"geowatch/internal/model"
	"geowatch/internal/monitor"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with migrations applied.
func newTestDB(t *testing.T) *SQLDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedArea(t *testing.T, db *SQLDatabase, id string) *model.AreaConfig {
	t.Helper()
	area := &model.AreaConfig{
		ID: id, Name: "Area " + id, CenterLat: 25.346312, CenterLon: 74.6364,
		NorthKm: 0.1, SouthKm: 0.1, EastKm: 0.1, WestKm: 0.1, CreatedAt: t0,
	}
	if err := db.CreateArea(context.Background(), area); err != nil {
		t.Fatalf("CreateArea() error = %v", err)
	}
	return area
}

func seedCapture(t *testing.T, db *SQLDatabase, id, areaID, key string, at time.Time) *model.TileCapture {
	t.Helper()
	c := &model.TileCapture{
		ID: id, AreaID: areaID, TileKey: key, Latitude: 25.3, Longitude: 74.6,
		CapturedAt: at, ImageRef: areaID + "/" + id + ".png", Status: model.CaptureCaptured,
	}
	if err := db.CreateTileCapture(context.Background(), c); err != nil {
		t.Fatalf("CreateTileCapture() error = %v", err)
	}
	return c
}

func seedSession(t *testing.T, db *SQLDatabase, id, areaID string, at time.Time) *model.AlertSession {
	t.Helper()
	s := &model.AlertSession{ID: id, AreaID: areaID, StartedAt: at, Status: model.SessionInProgress}
	if err := db.CreateAlertSession(context.Background(), s); err != nil {
		t.Fatalf("CreateAlertSession() error = %v", err)
	}
	return s
}

func TestSQLDatabase_Areas(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns ErrNotFound for missing area", func(t *testing.T) {
		db := newTestDB(t)
		_, err := db.GetArea(ctx, "missing")
		if !errors.Is(err, monitor.ErrNotFound) {
			t.Errorf("GetArea() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("round trips all fields", func(t *testing.T) {
		db := newTestDB(t)
		want := seedArea(t, db, "a1")

		got, err := db.GetArea(ctx, "a1")
		if err != nil {
			t.Fatalf("GetArea() error = %v", err)
		}
		if got.Name != want.Name || got.CenterLat != want.CenterLat || got.EastKm != want.EastKm {
			t.Errorf("GetArea() = %+v, want %+v", got, want)
		}
		if !got.CreatedAt.Equal(t0) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
		}
	})

	t.Run("lists oldest first", func(t *testing.T) {
		db := newTestDB(t)
		second := &model.AreaConfig{ID: "b", Name: "later", CenterLat: 1, CenterLon: 1, CreatedAt: t0.Add(time.Hour)}
		if err := db.CreateArea(ctx, second); err != nil {
			t.Fatal(err)
		}
		seedArea(t, db, "a")

		areas, err := db.ListAreas(ctx)
		if err != nil {
			t.Fatalf("ListAreas() error = %v", err)
		}
		if len(areas) != 2 || areas[0].ID != "a" || areas[1].ID != "b" {
			t.Errorf("ListAreas() order wrong: %v", areas)
		}
	})
}

func TestSQLDatabase_ListTileCapturesForArea(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedArea(t, db, "a1")
	seedArea(t, db, "a2")

	// Inserted out of time order on purpose.
	seedCapture(t, db, "c2", "a1", "k1", t0.Add(2*time.Minute))
	seedCapture(t, db, "c1", "a1", "k1", t0.Add(time.Minute))
	seedCapture(t, db, "c3", "a1", "k1", t0.Add(3*time.Minute+500*time.Millisecond))
	seedCapture(t, db, "c0", "a1", "k0", t0)
	seedCapture(t, db, "x", "a2", "k0", t0)

	got, err := db.ListTileCapturesForArea(ctx, "a1")
	if err != nil {
		t.Fatalf("ListTileCapturesForArea() error = %v", err)
	}

	wantOrder := []string{"c0", "c3", "c2", "c1"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d captures, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("captures[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
	if got[0].LastComparedAt.Valid || got[0].ChangeDetected.Valid {
		t.Error("fresh capture should have NULL comparison fields")
	}
	if got[0].Status != model.CaptureCaptured {
		t.Errorf("Status = %s, want CAPTURED", got[0].Status)
	}
}

func TestSQLDatabase_ApplyComparison(t *testing.T) {
	ctx := context.Background()

	t.Run("changed verdict writes detail and bumps counters atomically", func(t *testing.T) {
		db := newTestDB(t)
		seedArea(t, db, "a1")
		prev := seedCapture(t, db, "c1", "a1", "k", t0)
		latest := seedCapture(t, db, "c2", "a1", "k", t0.Add(time.Minute))
		seedSession(t, db, "s1", "a1", t0.Add(2*time.Minute))

		err := db.ApplyComparison(ctx, monitor.ComparisonUpdate{
			SessionID:      "s1",
			CaptureID:      latest.ID,
			Status:         model.CaptureChanged,
			LastComparedAt: sql.NullTime{Time: t0.Add(3 * time.Minute), Valid: true},
			ChangeDetected: sql.NullBool{Bool: true, Valid: true},
			Compared:       true,
			Detail: &model.AlertDetail{
				ID: "d1", SessionID: "s1", TileCaptureID: latest.ID,
				PreviousImageRef: prev.ImageRef, CurrentImageRef: latest.ImageRef,
				ChangeLog: model.ChangeLog{Changed: true, ChangePercent: 20.5, Message: "Comparison successful."},
				CreatedAt: t0.Add(3 * time.Minute),
			},
		})
		if err != nil {
			t.Fatalf("ApplyComparison() error = %v", err)
		}

		captures, _ := db.ListTileCapturesForArea(ctx, "a1")
		if captures[0].Status != model.CaptureChanged || !captures[0].ChangeDetected.Bool || !captures[0].LastComparedAt.Valid {
			t.Errorf("latest capture = %+v, want CHANGED with comparison fields set", captures[0])
		}

		session, err := db.GetAlertSession(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if session.TotalChangesDetected != 1 || session.TilesCompared != 1 || session.TilesErrored != 0 {
			t.Errorf("session counters = %d/%d/%d, want 1/1/0", session.TotalChangesDetected, session.TilesCompared, session.TilesErrored)
		}

		details, err := db.ListAlertDetails(ctx, "s1")
		if err != nil {
			t.Fatalf("ListAlertDetails() error = %v", err)
		}
		if len(details) != 1 {
			t.Fatalf("got %d details, want 1", len(details))
		}
		if details[0].ChangeLog.ChangePercent != 20.5 || details[0].PreviousImageRef != prev.ImageRef {
			t.Errorf("detail = %+v", details[0])
		}
	})

	t.Run("error verdict keeps change flag NULL", func(t *testing.T) {
		db := newTestDB(t)
		seedArea(t, db, "a1")
		latest := seedCapture(t, db, "c1", "a1", "k", t0)
		seedSession(t, db, "s1", "a1", t0)

		err := db.ApplyComparison(ctx, monitor.ComparisonUpdate{
			SessionID:      "s1",
			CaptureID:      latest.ID,
			Status:         model.CaptureError,
			LastComparedAt: sql.NullTime{Time: t0, Valid: true},
			Compared:       true,
		})
		if err != nil {
			t.Fatalf("ApplyComparison() error = %v", err)
		}

		captures, _ := db.ListTileCapturesForArea(ctx, "a1")
		if captures[0].Status != model.CaptureError || captures[0].ChangeDetected.Valid {
			t.Errorf("capture = %+v, want ERROR with NULL change flag", captures[0])
		}
		session, _ := db.GetAlertSession(ctx, "s1")
		if session.TilesErrored != 1 || session.TotalChangesDetected != 0 {
			t.Errorf("session counters = %+v", session)
		}
	})

	t.Run("failed detail insert rolls back the capture update", func(t *testing.T) {
		db := newTestDB(t)
		seedArea(t, db, "a1")
		latest := seedCapture(t, db, "c1", "a1", "k", t0)
		seedSession(t, db, "s1", "a1", t0)

		err := db.ApplyComparison(ctx, monitor.ComparisonUpdate{
			SessionID: "s1",
			CaptureID: latest.ID,
			Status:    model.CaptureChanged,
			Compared:  true,
			Detail: &model.AlertDetail{
				ID: "d1", SessionID: "no-such-session", TileCaptureID: latest.ID, CreatedAt: t0,
			},
		})
		if err == nil {
			t.Fatal("ApplyComparison() expected foreign key error")
		}

		captures, _ := db.ListTileCapturesForArea(ctx, "a1")
		if captures[0].Status != model.CaptureCaptured {
			t.Errorf("capture status = %s, want CAPTURED after rollback", captures[0].Status)
		}
	})

	t.Run("finalized session rejects updates", func(t *testing.T) {
		db := newTestDB(t)
		seedArea(t, db, "a1")
		latest := seedCapture(t, db, "c1", "a1", "k", t0)
		seedSession(t, db, "s1", "a1", t0)
		if err := db.FinishAlertSession(ctx, "s1", monitor.SessionOutcome{Status: model.SessionNoChanges, FinishedAt: t0}); err != nil {
			t.Fatal(err)
		}

		err := db.ApplyComparison(ctx, monitor.ComparisonUpdate{
			SessionID: "s1", CaptureID: latest.ID, Status: model.CaptureNoChange, Compared: true,
		})
		if !errors.Is(err, monitor.ErrSessionFinalized) {
			t.Errorf("ApplyComparison() error = %v, want ErrSessionFinalized", err)
		}
	})
}

func TestSQLDatabase_FinishAlertSession(t *testing.T) {
	ctx := context.Background()

	t.Run("writes terminal status once", func(t *testing.T) {
		db := newTestDB(t)
		seedArea(t, db, "a1")
		seedSession(t, db, "s1", "a1", t0)

		outcome := monitor.SessionOutcome{
			Status: model.SessionChangesDetected, FinishedAt: t0.Add(time.Minute),
			TotalChangesDetected: 2, TilesCompared: 5, TilesErrored: 1,
		}
		if err := db.FinishAlertSession(ctx, "s1", outcome); err != nil {
			t.Fatalf("FinishAlertSession() error = %v", err)
		}

		got, _ := db.GetAlertSession(ctx, "s1")
		if got.Status != model.SessionChangesDetected || !got.FinishedAt.Valid || got.TotalChangesDetected != 2 {
			t.Errorf("session = %+v", got)
		}

		err := db.FinishAlertSession(ctx, "s1", monitor.SessionOutcome{Status: model.SessionCompletedInError, FinishedAt: t0})
		if !errors.Is(err, monitor.ErrSessionFinalized) {
			t.Errorf("second FinishAlertSession() error = %v, want ErrSessionFinalized", err)
		}
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		db := newTestDB(t)
		seedArea(t, db, "a1")
		seedSession(t, db, "s1", "a1", t0)

		if err := db.FinishAlertSession(ctx, "s1", monitor.SessionOutcome{Status: model.SessionInProgress}); err == nil {
			t.Error("FinishAlertSession() expected error for IN_PROGRESS")
		}
	})

	t.Run("missing session", func(t *testing.T) {
		db := newTestDB(t)
		err := db.FinishAlertSession(ctx, "nope", monitor.SessionOutcome{Status: model.SessionNoChanges})
		if !errors.Is(err, monitor.ErrNotFound) {
			t.Errorf("FinishAlertSession() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLDatabase_Sessions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedArea(t, db, "a1")
	seedArea(t, db, "a2")
	seedSession(t, db, "s1", "a1", t0)
	seedSession(t, db, "s2", "a2", t0.Add(time.Minute))
	seedSession(t, db, "s3", "a1", t0.Add(2*time.Minute))

	if err := db.MarkNotificationSent(ctx, "s3", true); err != nil {
		t.Fatalf("MarkNotificationSent() error = %v", err)
	}

	all, err := db.ListAlertSessions(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListAlertSessions() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "s3" || all[2].ID != "s1" {
		t.Errorf("ListAlertSessions() order wrong")
	}
	if !all[0].NotificationSent {
		t.Error("s3 NotificationSent = false, want true")
	}

	forArea, err := db.ListAlertSessions(ctx, "a1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(forArea) != 1 || forArea[0].ID != "s3" {
		t.Errorf("ListAlertSessions(a1, 1) = %v, want [s3]", forArea)
	}

	if _, err := db.GetAlertSession(ctx, "missing"); !errors.Is(err, monitor.ErrNotFound) {
		t.Errorf("GetAlertSession() error = %v, want ErrNotFound", err)
	}
}

func TestSQLDatabase_MonitorPasses(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i, id := range []string{"p1", "p2"} {
		p := &model.MonitorPass{ID: id, StartedAt: t0.Add(time.Duration(i) * time.Minute), Status: model.PassRunning}
		if err := db.CreateMonitorPass(ctx, p); err != nil {
			t.Fatalf("CreateMonitorPass() error = %v", err)
		}
	}

	finished := &model.MonitorPass{
		ID: "p1", StartedAt: t0, Status: model.PassPartial,
		FinishedAt: sql.NullTime{Time: t0.Add(30 * time.Second), Valid: true},
		AreasTotal: 3, AreasFailed: 1,
	}
	if err := db.FinishMonitorPass(ctx, finished); err != nil {
		t.Fatalf("FinishMonitorPass() error = %v", err)
	}

	passes, err := db.ListMonitorPasses(ctx, 10)
	if err != nil {
		t.Fatalf("ListMonitorPasses() error = %v", err)
	}
	if len(passes) != 2 || passes[0].ID != "p2" {
		t.Fatalf("ListMonitorPasses() = %v, want p2 first", passes)
	}
	if p := passes[1]; p.Status != model.PassPartial || p.AreasFailed != 1 || !p.FinishedAt.Valid {
		t.Errorf("finished pass = %+v", p)
	}
}

func TestSQLDatabase_JobLock(t *testing.T) {
	ctx := context.Background()
	ttl := 10 * time.Minute

	t.Run("second holder is refused until release", func(t *testing.T) {
		db := newTestDB(t)

		ok, err := db.AcquireLock(ctx, "monitoring_job", "a", t0, ttl)
		if err != nil || !ok {
			t.Fatalf("AcquireLock(a) = %v, %v; want true", ok, err)
		}
		ok, err = db.AcquireLock(ctx, "monitoring_job", "b", t0.Add(time.Minute), ttl)
		if err != nil || ok {
			t.Fatalf("AcquireLock(b) = %v, %v; want false", ok, err)
		}

		if err := db.ReleaseLock(ctx, "monitoring_job", "a"); err != nil {
			t.Fatalf("ReleaseLock() error = %v", err)
		}
		ok, err = db.AcquireLock(ctx, "monitoring_job", "b", t0.Add(time.Minute), ttl)
		if err != nil || !ok {
			t.Errorf("AcquireLock(b) after release = %v, %v; want true", ok, err)
		}
	})

	t.Run("holder can renew", func(t *testing.T) {
		db := newTestDB(t)
		if ok, _ := db.AcquireLock(ctx, "job", "a", t0, ttl); !ok {
			t.Fatal("first acquire failed")
		}
		if ok, err := db.AcquireLock(ctx, "job", "a", t0.Add(time.Minute), ttl); err != nil || !ok {
			t.Errorf("renew = %v, %v; want true", ok, err)
		}
	})

	t.Run("expired lease can be taken over", func(t *testing.T) {
		db := newTestDB(t)
		if ok, _ := db.AcquireLock(ctx, "job", "a", t0, ttl); !ok {
			t.Fatal("first acquire failed")
		}
		if ok, err := db.AcquireLock(ctx, "job", "b", t0.Add(ttl+time.Second), ttl); err != nil || !ok {
			t.Errorf("takeover = %v, %v; want true", ok, err)
		}
	})

	t.Run("release by non-holder is a no-op", func(t *testing.T) {
		db := newTestDB(t)
		if ok, _ := db.AcquireLock(ctx, "job", "a", t0, ttl); !ok {
			t.Fatal("first acquire failed")
		}
		if err := db.ReleaseLock(ctx, "job", "b"); err != nil {
			t.Fatalf("ReleaseLock() error = %v", err)
		}
		if ok, _ := db.AcquireLock(ctx, "job", "b", t0.Add(time.Minute), ttl); ok {
			t.Error("lock should still be held by a")
		}
	})
}

func TestSQLDatabase_CheckMigrations(t *testing.T) {
	db := newTestDB(t)
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
}
