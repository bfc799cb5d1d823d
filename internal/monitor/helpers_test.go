package monitor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"geowatch/internal/database"
	"geowatch/internal/detect"
	"geowatch/internal/imagestore"
	"geowatch/internal/model"
	"geowatch/internal/monitor"
	"geowatch/internal/testutil"
)

var (
	terrainPNG = testutil.SolidPNG(400, 400, testutil.Terrain)
	changedPNG = testutil.PNGWithBlocks(400, 400, testutil.Terrain, testutil.TwentyPercentBlock)
)

type fixture struct {
	db       *database.SQLDatabase
	store    *imagestore.MemoryStore
	provider *testutil.FakeProvider
	notifier *testutil.RecordingNotifier
	clock    *testutil.StubClock
	recorder *countingRecorder
	svc      *monitor.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       testutil.NewTestDatabase(t),
		store:    imagestore.NewMemoryStore(),
		provider: testutil.NewFakeProvider(terrainPNG),
		notifier: testutil.NewRecordingNotifier(),
		clock:    testutil.FixedClock(),
		recorder: &countingRecorder{},
	}
	f.clock.SetStep(time.Second)
	f.svc = f.newService(f.db, f.notifier)
	return f
}

// newService builds a service over db, sharing the fixture's other parts.
func (f *fixture) newService(db monitor.Database, notifier monitor.Notifier) *monitor.Service {
	svc := monitor.NewService(db, f.store, f.provider, detect.New(), notifier,
		monitor.NewNopLogger(), f.clock, testutil.NewStubIDGenerator(), monitor.DefaultOptions())
	svc.SetRecorder(f.recorder)
	return svc
}

// addArea stores an area whose extents collapse to a single tile.
func (f *fixture) addArea(t *testing.T, name string) *model.AreaConfig {
	t.Helper()
	area, err := f.svc.AddArea(context.Background(), &model.AreaConfig{
		Name:      name,
		CenterLat: 37.4219,
		CenterLon: -122.0841,
		NorthKm:   0.1,
		SouthKm:   0.1,
		EastKm:    0.1,
		WestKm:    0.1,
	})
	if err != nil {
		t.Fatalf("AddArea() error = %v", err)
	}
	return area
}

func (f *fixture) capture(t *testing.T, area *model.AreaConfig, image []byte) {
	t.Helper()
	f.provider.SetImage(image)
	if _, err := f.svc.CaptureArea(context.Background(), area); err != nil {
		t.Fatalf("CaptureArea() error = %v", err)
	}
}

func (f *fixture) captures(t *testing.T, areaID string) []*model.TileCapture {
	t.Helper()
	captures, err := f.db.ListTileCapturesForArea(context.Background(), areaID)
	if err != nil {
		t.Fatalf("ListTileCapturesForArea() error = %v", err)
	}
	return captures
}

// failingDB overrides selected Database methods with errors.
type failingDB struct {
	monitor.Database
	listAreasErr    error
	listCapturesErr map[string]error // by area ID
}

func (d *failingDB) ListAreas(ctx context.Context) ([]*model.AreaConfig, error) {
	if d.listAreasErr != nil {
		return nil, d.listAreasErr
	}
	return d.Database.ListAreas(ctx)
}

func (d *failingDB) ListTileCapturesForArea(ctx context.Context, areaID string) ([]*model.TileCapture, error) {
	if err := d.listCapturesErr[areaID]; err != nil {
		return nil, err
	}
	return d.Database.ListTileCapturesForArea(ctx, areaID)
}

// leaseDB counts completed job lock acquisitions and can refuse them.
type leaseDB struct {
	monitor.Database
	acquired atomic.Int64
	refuse   atomic.Bool
}

func (d *leaseDB) AcquireLock(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	if d.refuse.Load() {
		return false, nil
	}
	ok, err := d.Database.AcquireLock(ctx, name, holder, now, ttl)
	d.acquired.Add(1)
	return ok, err
}

// countingRecorder tallies recorder events.
type countingRecorder struct {
	mu            sync.Mutex
	captured      int
	captureFailed int
	compared      map[model.CaptureStatus]int
	sessions      map[model.SessionStatus]int
	notified      int
	notifyFailed  int
	passes        map[model.PassStatus]int
	skipped       int
}

func (r *countingRecorder) TileCaptured(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.captured++
	} else {
		r.captureFailed++
	}
}

func (r *countingRecorder) TileCompared(status model.CaptureStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.compared == nil {
		r.compared = map[model.CaptureStatus]int{}
	}
	r.compared[status]++
}

func (r *countingRecorder) SessionFinished(status model.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = map[model.SessionStatus]int{}
	}
	r.sessions[status]++
}

func (r *countingRecorder) NotificationSent(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.notified++
	} else {
		r.notifyFailed++
	}
}

func (r *countingRecorder) PassFinished(status model.PassStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.passes == nil {
		r.passes = map[model.PassStatus]int{}
	}
	r.passes[status]++
}

func (r *countingRecorder) PassSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

func (r *countingRecorder) skippedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}
