package monitor

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"geowatch/internal/geo"
	"geowatch/internal/model"
)

// CaptureResult summarizes one capture phase over an area.
type CaptureResult struct {
	AreaID   string
	Tiles    int
	Captured int
	Failed   int
}

// ImageKey is the image store key for a tile captured at capturedAt.
func ImageKey(areaID, tileKey string, capturedAt time.Time) string {
	return fmt.Sprintf("%s/%s_%s.png", areaID, tileKey, capturedAt.UTC().Format("20060102150405"))
}

// CaptureArea fetches a fresh image for every tile of area, stores it, and
// records a CAPTURED TileCapture. A tile that fails is logged and skipped;
// its siblings continue. Once ctx is cancelled no new tiles are started and
// the context error is returned after in-flight tiles finish.
func (s *Service) CaptureArea(ctx context.Context, area *model.AreaConfig) (CaptureResult, error) {
	result := CaptureResult{AreaID: area.ID}

	grid, err := geo.NewGrid(area, s.opts.TileSizeMeters)
	if err != nil {
		return result, fmt.Errorf("computing grid for area %s: %w", area.ID, err)
	}
	tiles := grid.Tiles()
	result.Tiles = len(tiles)

	s.logger.Info("capture started", "area_id", area.ID, "tiles", len(tiles))

	var captured, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxConcurrentTiles)

	for _, tile := range tiles {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.captureTile(ctx, area, tile); err != nil {
				failed.Add(1)
				s.recorder.TileCaptured(false)
				s.logger.Warn("tile capture failed", "area_id", area.ID, "tile", tile.Key, "error", err)
				return nil
			}
			captured.Add(1)
			s.recorder.TileCaptured(true)
			return nil
		})
	}
	_ = g.Wait()

	result.Captured = int(captured.Load())
	result.Failed = int(failed.Load())

	if err := ctx.Err(); err != nil {
		s.logger.Warn("capture interrupted", "area_id", area.ID, "captured", result.Captured, "failed", result.Failed)
		return result, fmt.Errorf("capture interrupted: %w", err)
	}

	s.logger.Info("capture finished", "area_id", area.ID, "captured", result.Captured, "failed", result.Failed)
	return result, nil
}

// captureTile handles one tile: fetch, store, record. Nothing is recorded
// unless the image was stored.
func (s *Service) captureTile(ctx context.Context, area *model.AreaConfig, tile geo.Tile) error {
	capturedAt := s.clock.Now().UTC()

	data, err := s.provider.Fetch(ctx, FetchRequest{
		Lat:    tile.Lat,
		Lon:    tile.Lon,
		Zoom:   s.opts.Zoom,
		Width:  s.opts.ImageWidth,
		Height: s.opts.ImageHeight,
	})
	if err != nil {
		return fmt.Errorf("fetching imagery: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("fetching imagery: empty response")
	}

	key := ImageKey(area.ID, tile.Key, capturedAt)
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("storing image: %w", err)
	}

	capture := &model.TileCapture{
		ID:         s.idgen.New(),
		AreaID:     area.ID,
		TileKey:    tile.Key,
		Latitude:   tile.Lat,
		Longitude:  tile.Lon,
		CapturedAt: capturedAt,
		ImageRef:   key,
		Status:     model.CaptureCaptured,
	}
	if err := s.database.CreateTileCapture(ctx, capture); err != nil {
		return fmt.Errorf("recording capture: %w", err)
	}

	s.logger.Debug("tile captured", "area_id", area.ID, "tile", tile.Key, "image", key)
	return nil
}
