package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"geowatch/internal/geo"
	"geowatch/internal/model"
)

// Options tunes how the service captures and compares tiles.
type Options struct {
	TileSizeMeters     float64
	Zoom               int
	ImageWidth         int
	ImageHeight        int
	MaxConcurrentTiles int
}

// DefaultOptions mirror the imagery defaults: 236 m tiles at zoom 21, 400x400.
func DefaultOptions() Options {
	return Options{
		TileSizeMeters:     geo.DefaultTileSizeMeters,
		Zoom:               21,
		ImageWidth:         400,
		ImageHeight:        400,
		MaxConcurrentTiles: 4,
	}
}

// Service coordinates the imagery provider, image store, detector and record
// store to capture and compare monitored areas.
type Service struct {
	database Database
	store    ImageStore
	provider ImageryProvider
	detector ChangeDetector
	notifier Notifier
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	recorder Recorder
	opts     Options
}

// NewService creates a Service with the provided dependencies. notifier may be
// nil, in which case completed sessions with changes are logged only.
func NewService(database Database, store ImageStore, provider ImageryProvider, detector ChangeDetector, notifier Notifier, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if opts.MaxConcurrentTiles < 1 {
		opts.MaxConcurrentTiles = 1
	}
	if opts.TileSizeMeters <= 0 {
		opts.TileSizeMeters = geo.DefaultTileSizeMeters
	}
	return &Service{
		database: database,
		store:    store,
		provider: provider,
		detector: detector,
		notifier: notifier,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		recorder: NopRecorder{},
		opts:     opts,
	}
}

// SetRecorder attaches a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = NopRecorder{}
	}
	s.recorder = r
}

// AddArea validates and stores a new area definition, returning it with its
// assigned ID.
func (s *Service) AddArea(ctx context.Context, area *model.AreaConfig) (*model.AreaConfig, error) {
	area.Name = strings.TrimSpace(area.Name)
	if err := area.Validate(); err != nil {
		return nil, fmt.Errorf("invalid area: %w", err)
	}
	grid, err := geo.NewGrid(area, s.opts.TileSizeMeters)
	if err != nil {
		return nil, err
	}

	area.ID = s.idgen.New()
	area.CreatedAt = s.clock.Now().UTC()
	if err := s.database.CreateArea(ctx, area); err != nil {
		return nil, fmt.Errorf("creating area: %w", err)
	}

	s.logger.Info("area added", "area_id", area.ID, "name", area.Name, "tiles", grid.Len())
	return area, nil
}

// GetArea returns one area by ID.
func (s *Service) GetArea(ctx context.Context, id string) (*model.AreaConfig, error) {
	area, err := s.database.GetArea(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("area %s: %w", id, err)
		}
		return nil, fmt.Errorf("loading area: %w", err)
	}
	return area, nil
}

// ListAreas returns every configured area.
func (s *Service) ListAreas(ctx context.Context) ([]*model.AreaConfig, error) {
	areas, err := s.database.ListAreas(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing areas: %w", err)
	}
	return areas, nil
}

// Grid returns the tile grid the service would capture for area.
func (s *Service) Grid(area *model.AreaConfig) (*geo.Grid, error) {
	return geo.NewGrid(area, s.opts.TileSizeMeters)
}

// MonitorArea runs one full capture-then-compare cycle for an area. The
// comparison only starts once every tile capture has finished.
func (s *Service) MonitorArea(ctx context.Context, area *model.AreaConfig) (CaptureResult, CompareResult, error) {
	captured, err := s.CaptureArea(ctx, area)
	if err != nil {
		return captured, CompareResult{AreaID: area.ID}, err
	}
	compared, err := s.CompareArea(ctx, area)
	return captured, compared, err
}
