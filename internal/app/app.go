package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"geowatch/internal/config"
	"geowatch/internal/database"
	"geowatch/internal/detect"
	"geowatch/internal/encryption"
	"geowatch/internal/geo"
	"geowatch/internal/imagery"
	"geowatch/internal/imagestore"
	"geowatch/internal/metrics"
	"geowatch/internal/model"
	"geowatch/internal/monitor"
	"geowatch/internal/notify"
	"geowatch/internal/server"
)

// ErrImageryNotConfigured is returned by capture when no provider key is set.
var ErrImageryNotConfigured = errors.New("imagery api key not configured")

// MonitorApp is the application layer between the CLI and monitor.Service.
// It constructs all dependencies from config, exposes the operations the
// commands need, and releases resources on Close.
type MonitorApp struct {
	cfg       *config.Config
	db        monitor.Database
	store     monitor.ImageStore
	sealed    *imagestore.EncryptedStore // nil when encryption is off
	encryptor monitor.Encryptor
	notifier  *notify.Dispatcher
	metrics   *metrics.Metrics
	service   *monitor.Service
	op        *Operation
	logger    *slog.Logger
	logFile   *os.File
}

// NewMonitorApp creates a fully wired MonitorApp from the given config.
// operation identifies the CLI command being run (e.g. "AddArea", "RunPass").
// The caller must call Close when done.
func NewMonitorApp(ctx context.Context, cfg *config.Config, operation string) (*MonitorApp, error) {
	op := NewOperation(operation, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.RunID, slog.LevelInfo)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &MonitorApp{cfg: cfg, op: op, logger: logger, logFile: logFile}
	if err := a.wire(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	a.logger.Debug("operation started", "operation", op.Name)
	return a, nil
}

func (a *MonitorApp) wire(ctx context.Context) error {
	cfg := a.cfg
	log := &slogAdapter{l: a.logger}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	store, err := imagestore.NewImageStoreFromConfig(ctx, cfg.ImageStore)
	if err != nil {
		return fmt.Errorf("creating image store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil {
		if !enc.IsConfigured() {
			return fmt.Errorf("encryption keys not initialized: run `geowatch keys init`")
		}
		a.encryptor = enc
		a.sealed = imagestore.NewEncryptedStore(store, enc, nil)
		store = a.sealed
	}
	a.store = store

	provider, err := newProvider(cfg.Imagery)
	if err != nil {
		return err
	}

	width, height, err := cfg.Imagery.Dimensions()
	if err != nil {
		return err
	}
	detector := detect.New()
	detector.Width = width
	detector.Height = height
	detector.BlurSigma = cfg.Detection.BlurSigma
	detector.BinarizeThreshold = cfg.Detection.BinarizeThreshold
	detector.MinRegionArea = cfg.Detection.MinRegionArea
	detector.ChangeThresholdPercent = cfg.Detection.ChangeThresholdPercent

	dispatcher, err := notify.NewDispatcherFromConfig(ctx, cfg.Notify, log)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}
	a.notifier = dispatcher

	m, err := metrics.New(true)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}
	a.metrics = m

	opts := monitor.Options{
		TileSizeMeters:     cfg.Detection.TileSizeMeters,
		Zoom:               cfg.Imagery.Zoom,
		ImageWidth:         width,
		ImageHeight:        height,
		MaxConcurrentTiles: cfg.Monitor.MaxConcurrentTiles,
	}
	a.service = monitor.NewService(db, store, provider, detector, dispatcher, log, monitor.RealClock{}, monitor.UUIDGenerator{}, opts)
	a.service.SetRecorder(m)
	return nil
}

// newProvider builds the imagery provider. Without a key the app still
// serves read-only commands; capture reports ErrImageryNotConfigured.
func newProvider(cfg config.ImageryConfig) (monitor.ImageryProvider, error) {
	switch cfg.Provider {
	case "static_maps", "":
	default:
		return nil, fmt.Errorf("unknown imagery provider: %q", cfg.Provider)
	}
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	if key == "" {
		return unconfiguredProvider{}, nil
	}
	p, err := imagery.NewStaticMapsProvider(imagery.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            key,
		MapType:           cfg.MapType,
		Timeout:           cfg.TimeoutDuration(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating imagery provider: %w", err)
	}
	return p, nil
}

type unconfiguredProvider struct{}

func (unconfiguredProvider) Fetch(context.Context, monitor.FetchRequest) ([]byte, error) {
	return nil, ErrImageryNotConfigured
}

// Locked reports whether stored imagery must be unlocked before comparing.
func (a *MonitorApp) Locked() bool {
	return a.sealed != nil && a.sealed.Locked()
}

// Unlock opens the private key so encrypted images can be read back.
func (a *MonitorApp) Unlock(passphrase string) error {
	if a.sealed == nil {
		return nil
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking image store: %w", err)
	}
	a.sealed.SetDecryptor(dc)
	return nil
}

func (a *MonitorApp) requireUnlocked() error {
	if a.Locked() {
		return fmt.Errorf("%w: set %s or enter the passphrase", imagestore.ErrLocked, PassphraseEnv)
	}
	return nil
}

// AddArea registers a new monitored area.
func (a *MonitorApp) AddArea(ctx context.Context, area *model.AreaConfig) (*model.AreaConfig, error) {
	created, err := a.service.AddArea(ctx, area)
	return created, a.op.Record(err)
}

// ListAreas returns every configured area.
func (a *MonitorApp) ListAreas(ctx context.Context) ([]*model.AreaConfig, error) {
	areas, err := a.service.ListAreas(ctx)
	return areas, a.op.Record(err)
}

// ShowArea returns an area with the tile grid it expands to.
func (a *MonitorApp) ShowArea(ctx context.Context, id string) (*model.AreaConfig, *geo.Grid, error) {
	area, err := a.service.GetArea(ctx, id)
	if err != nil {
		return nil, nil, a.op.Record(err)
	}
	grid, err := a.service.Grid(area)
	if err != nil {
		return nil, nil, a.op.Record(err)
	}
	return area, grid, nil
}

// Capture fetches and stores the current image of every tile in an area. It
// holds the monitoring job lock, so it fails with monitor.ErrLockHeld while
// a pass runs elsewhere.
func (a *MonitorApp) Capture(ctx context.Context, areaID string) (monitor.CaptureResult, error) {
	area, err := a.service.GetArea(ctx, areaID)
	if err != nil {
		return monitor.CaptureResult{}, a.op.Record(err)
	}
	sched, err := a.newScheduler()
	if err != nil {
		return monitor.CaptureResult{}, a.op.Record(err)
	}
	var res monitor.CaptureResult
	err = sched.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.service.CaptureArea(ctx, area)
		return err
	})
	return res, a.op.Record(err)
}

// Compare runs one comparison session over an area's stored captures.
func (a *MonitorApp) Compare(ctx context.Context, areaID string) (monitor.CompareResult, error) {
	if err := a.requireUnlocked(); err != nil {
		return monitor.CompareResult{}, a.op.Record(err)
	}
	area, err := a.service.GetArea(ctx, areaID)
	if err != nil {
		return monitor.CompareResult{}, a.op.Record(err)
	}
	sched, err := a.newScheduler()
	if err != nil {
		return monitor.CompareResult{}, a.op.Record(err)
	}
	var res monitor.CompareResult
	err = sched.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.service.CompareArea(ctx, area)
		return err
	})
	return res, a.op.Record(err)
}

// RunOnce performs a single monitoring pass over every area.
func (a *MonitorApp) RunOnce(ctx context.Context) (monitor.PassResult, error) {
	if err := a.requireUnlocked(); err != nil {
		return monitor.PassResult{}, a.op.Record(err)
	}
	sched, err := a.newScheduler()
	if err != nil {
		return monitor.PassResult{}, a.op.Record(err)
	}
	res, err := sched.RunPass(ctx)
	return res, a.op.Record(err)
}

// Run starts the scheduler, and the status server when configured, and
// blocks until ctx is cancelled.
func (a *MonitorApp) Run(ctx context.Context) error {
	if err := a.requireUnlocked(); err != nil {
		return a.op.Record(err)
	}
	sched, err := a.newScheduler()
	if err != nil {
		return a.op.Record(err)
	}

	var srv *server.Server
	srvErr := make(chan error, 1)
	if addr := a.cfg.Server.Listen; addr != "" {
		srv = server.New(a.service, a.metrics.Handler(), &slogAdapter{l: a.logger})
		go func() { srvErr <- srv.Start(addr) }()
	}

	if err := sched.Start(ctx); err != nil {
		return a.op.Record(err)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		if runErr != nil {
			runErr = fmt.Errorf("status server: %w", runErr)
		}
	}

	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("stopping status server: %w", err)
		}
	}
	return a.op.Record(runErr)
}

func (a *MonitorApp) newScheduler() (*monitor.Scheduler, error) {
	interval, err := a.cfg.Monitor.IntervalDuration()
	if err != nil {
		return nil, err
	}
	ttl, err := a.cfg.Monitor.LockTTLDuration()
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return monitor.NewScheduler(a.service, monitor.SchedulerOptions{
		Interval:           interval,
		RunOnStart:         a.cfg.Monitor.RunOnStart,
		MaxConcurrentAreas: a.cfg.Monitor.MaxConcurrentAreas,
		LockTTL:            ttl,
		HolderID:           fmt.Sprintf("%s/%d/%s", host, os.Getpid(), a.op.RunID),
	}), nil
}

// ListSessions returns recent alert sessions, optionally for one area.
func (a *MonitorApp) ListSessions(ctx context.Context, areaID string, limit int) ([]*model.AlertSession, error) {
	sessions, err := a.service.ListSessions(ctx, areaID, limit)
	return sessions, a.op.Record(err)
}

// SessionDetails returns a session and its recorded changes.
func (a *MonitorApp) SessionDetails(ctx context.Context, id string) (*model.AlertSession, []*model.AlertDetail, error) {
	session, details, err := a.service.SessionDetails(ctx, id)
	return session, details, a.op.Record(err)
}

// GetHistory returns the most recent monitoring passes.
func (a *MonitorApp) GetHistory(ctx context.Context, limit int) ([]*model.MonitorPass, error) {
	passes, err := a.service.GetHistory(ctx, limit)
	return passes, a.op.Record(err)
}

// Close logs the operation outcome and releases all resources.
func (a *MonitorApp) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"elapsed", a.op.Elapsed(time.Now()).Truncate(time.Millisecond).String())
	return a.closeResources()
}

func (a *MonitorApp) closeResources() error {
	var firstErr error

	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			firstErr = fmt.Errorf("closing notifier: %w", err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// SetupKeys generates the encryption key pair for cfg, sealing the private
// key with passphrase.
func SetupKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled (encryption.type = %q)", cfg.Encryption.Type)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	return nil
}
