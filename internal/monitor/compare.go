package monitor

import (
	"bytes"
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"geowatch/internal/detect"
	"geowatch/internal/model"
)

// CompareResult summarizes one comparison run over an area.
type CompareResult struct {
	AreaID           string
	SessionID        string
	Status           model.SessionStatus
	Groups           int
	Compared         int
	Changed          int
	Errored          int
	Skipped          int
	NotificationSent bool
}

// tileGroup is every capture of one tile key, newest first.
type tileGroup struct {
	key      string
	captures []*model.TileCapture
}

// groupByTileKey splits captures into per-key groups in key order. Each group
// is sorted newest first, ties broken by ID, whatever order the rows came in.
func groupByTileKey(captures []*model.TileCapture) []tileGroup {
	index := make(map[string]int)
	var groups []tileGroup
	for _, c := range captures {
		i, ok := index[c.TileKey]
		if !ok {
			i = len(groups)
			index[c.TileKey] = i
			groups = append(groups, tileGroup{key: c.TileKey})
		}
		groups[i].captures = append(groups[i].captures, c)
	}

	slices.SortFunc(groups, func(a, b tileGroup) int { return cmp.Compare(a.key, b.key) })
	for _, g := range groups {
		slices.SortFunc(g.captures, func(a, b *model.TileCapture) int {
			if c := b.CapturedAt.Compare(a.CapturedAt); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
	}
	return groups
}

// CompareArea opens an alert session, compares the two newest captures of
// every tile of area, and finalizes the session exactly once whatever the
// outcome. Each tile group commits before the next one starts, so a failure
// part-way leaves earlier verdicts in place and the session in COMPLETED_ERROR.
func (s *Service) CompareArea(ctx context.Context, area *model.AreaConfig) (result CompareResult, err error) {
	result.AreaID = area.ID

	session, err := s.beginSession(ctx, area)
	if err != nil {
		return result, err
	}
	result.SessionID = session.ID

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("comparison panicked: %v", r)
		}
		status, sent, finErr := s.finishSession(ctx, area, session, result, err)
		result.Status = status
		result.NotificationSent = sent
		if err == nil && finErr != nil {
			err = finErr
		}
	}()

	err = s.compareGroups(ctx, area, session, &result)
	return result, err
}

func (s *Service) compareGroups(ctx context.Context, area *model.AreaConfig, session *model.AlertSession, result *CompareResult) error {
	captures, err := s.database.ListTileCapturesForArea(ctx, area.ID)
	if err != nil {
		return fmt.Errorf("loading captures: %w", err)
	}

	for _, group := range groupByTileKey(captures) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("comparison interrupted: %w", err)
		}
		result.Groups++
		if err := s.compareGroup(ctx, session, group, result); err != nil {
			return err
		}
	}
	return nil
}

// compareGroup handles one tile key. Its database write runs detached from
// ctx so a cancellation never leaves a group half-committed.
func (s *Service) compareGroup(ctx context.Context, session *model.AlertSession, group tileGroup, result *CompareResult) error {
	commitCtx := context.WithoutCancel(ctx)

	switch len(group.captures) {
	case 0:
		return nil
	case 1:
		only := group.captures[0]
		result.Skipped++
		if only.Status == model.CaptureCaptured {
			return nil
		}
		update := ComparisonUpdate{
			SessionID:      session.ID,
			CaptureID:      only.ID,
			Status:         model.CaptureCaptured,
			LastComparedAt: only.LastComparedAt,
			ChangeDetected: only.ChangeDetected,
		}
		if err := s.database.ApplyComparison(commitCtx, update); err != nil {
			return fmt.Errorf("updating capture for tile %s: %w", group.key, err)
		}
		return nil
	}

	latest, previous := group.captures[0], group.captures[1]
	verdict := s.comparePair(ctx, previous, latest)
	now := s.clock.Now().UTC()

	update := ComparisonUpdate{
		SessionID:      session.ID,
		CaptureID:      latest.ID,
		LastComparedAt: sql.NullTime{Time: now, Valid: true},
		Compared:       true,
	}
	switch {
	case verdict.Error:
		update.Status = model.CaptureError
		s.logger.Warn("tile comparison failed", "tile", group.key, "capture_id", latest.ID, "reason", verdict.Message)
	case verdict.Changed:
		update.Status = model.CaptureChanged
		update.ChangeDetected = sql.NullBool{Bool: true, Valid: true}
		update.Detail = &model.AlertDetail{
			ID:               s.idgen.New(),
			SessionID:        session.ID,
			TileCaptureID:    latest.ID,
			PreviousImageRef: previous.ImageRef,
			CurrentImageRef:  latest.ImageRef,
			ChangeLog: model.ChangeLog{
				Changed:       verdict.Changed,
				ChangePercent: verdict.ChangePercent,
				Message:       verdict.Message,
			},
			CreatedAt: now,
		}
	default:
		update.Status = model.CaptureNoChange
		update.ChangeDetected = sql.NullBool{Bool: false, Valid: true}
	}

	if err := s.database.ApplyComparison(commitCtx, update); err != nil {
		return fmt.Errorf("committing comparison for tile %s: %w", group.key, err)
	}

	result.Compared++
	switch update.Status {
	case model.CaptureChanged:
		result.Changed++
		s.logger.Info("change detected", "tile", group.key, "percent", verdict.ChangePercent)
	case model.CaptureError:
		result.Errored++
	}
	s.recorder.TileCompared(update.Status)
	return nil
}

// comparePair loads both images and runs the detector. Any failure becomes
// an error verdict.
func (s *Service) comparePair(ctx context.Context, previous, latest *model.TileCapture) detect.Result {
	prev, err := s.readImage(ctx, previous.ImageRef)
	if err != nil {
		return detect.Result{Error: true, Message: fmt.Sprintf("Comparison failed: %v", err)}
	}
	curr, err := s.readImage(ctx, latest.ImageRef)
	if err != nil {
		return detect.Result{Error: true, Message: fmt.Sprintf("Comparison failed: %v", err)}
	}
	return s.detector.Compare(prev, curr)
}

func (s *Service) readImage(ctx context.Context, key string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.store.Get(ctx, key, &buf); err != nil {
		return nil, fmt.Errorf("reading image %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
