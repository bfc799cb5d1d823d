package monitor

import (
	"context"
	"errors"
	"fmt"

	"geowatch/internal/model"
)

// GetHistory returns the most recent monitor passes, ordered newest first.
func (s *Service) GetHistory(ctx context.Context, limit int) ([]*model.MonitorPass, error) {
	passes, err := s.database.ListMonitorPasses(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing monitor passes: %w", err)
	}
	return passes, nil
}

// ListSessions returns recent alert sessions, optionally restricted to one area.
func (s *Service) ListSessions(ctx context.Context, areaID string, limit int) ([]*model.AlertSession, error) {
	sessions, err := s.database.ListAlertSessions(ctx, areaID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing alert sessions: %w", err)
	}
	return sessions, nil
}

// SessionDetails returns a session together with the changes recorded in it.
func (s *Service) SessionDetails(ctx context.Context, sessionID string) (*model.AlertSession, []*model.AlertDetail, error) {
	session, err := s.database.GetAlertSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}
	details, err := s.database.ListAlertDetails(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing alert details: %w", err)
	}
	return session, details, nil
}
