package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"geowatch/internal/model"
)

// beginSession opens an IN_PROGRESS session for a comparison run. It runs
// before any grouping so even a run that fails immediately leaves a record.
func (s *Service) beginSession(ctx context.Context, area *model.AreaConfig) (*model.AlertSession, error) {
	session := &model.AlertSession{
		ID:        s.idgen.New(),
		AreaID:    area.ID,
		StartedAt: s.clock.Now().UTC(),
		Status:    model.SessionInProgress,
	}
	if err := s.database.CreateAlertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating alert session: %w", err)
	}
	s.logger.Info("comparison started", "area_id", area.ID, "session_id", session.ID)
	return session, nil
}

// sessionStatus derives the terminal status of a run.
func sessionStatus(runErr error, changes int) model.SessionStatus {
	switch {
	case runErr != nil:
		return model.SessionCompletedInError
	case changes > 0:
		return model.SessionChangesDetected
	default:
		return model.SessionNoChanges
	}
}

// finishSession finalizes the session and, when changes were found,
// dispatches the alert. Status is written before dispatch and never depends
// on delivery.
func (s *Service) finishSession(ctx context.Context, area *model.AreaConfig, session *model.AlertSession, result CompareResult, runErr error) (model.SessionStatus, bool, error) {
	ctx = context.WithoutCancel(ctx)
	status := sessionStatus(runErr, result.Changed)

	outcome := SessionOutcome{
		Status:               status,
		FinishedAt:           s.clock.Now().UTC(),
		TotalChangesDetected: int64(result.Changed),
		TilesCompared:        int64(result.Compared),
		TilesErrored:         int64(result.Errored),
	}
	if err := s.database.FinishAlertSession(ctx, session.ID, outcome); err != nil {
		if errors.Is(err, ErrSessionFinalized) {
			s.logger.Warn("alert session already finalized", "session_id", session.ID)
		} else {
			s.logger.Error("finalizing alert session failed", "session_id", session.ID, "error", err)
		}
		return status, false, fmt.Errorf("finalizing alert session: %w", err)
	}
	s.recorder.SessionFinished(status)

	if runErr != nil {
		s.logger.Error("comparison failed", "area_id", area.ID, "session_id", session.ID, "error", runErr)
	} else {
		s.logger.Info("comparison finished", "area_id", area.ID, "session_id", session.ID,
			"status", string(status), "compared", result.Compared, "changes", result.Changed, "errors", result.Errored)
	}

	if result.Changed == 0 {
		return status, false, nil
	}
	return status, s.dispatch(ctx, area, session, result.Changed), nil
}

// AlertNotification builds the message sent when a session found changes.
func AlertNotification(area *model.AreaConfig, sessionID string, changes int) *Notification {
	return &Notification{
		Title: fmt.Sprintf("Land Change Alert for %s", area.Name),
		Body:  fmt.Sprintf("Detected %d changes in area %s.", changes, area.Name),
		Payload: map[string]string{
			"area_config_id":   area.ID,
			"alert_session_id": sessionID,
			"changes_count":    strconv.Itoa(changes),
		},
	}
}

// dispatch sends the alert and records whether it was delivered. Failures
// are logged only.
func (s *Service) dispatch(ctx context.Context, area *model.AreaConfig, session *model.AlertSession, changes int) bool {
	sent := false
	if s.notifier == nil {
		s.logger.Warn("no notifier configured, alert not sent", "session_id", session.ID)
	} else if err := s.notifier.Notify(ctx, AlertNotification(area, session.ID, changes)); err != nil {
		s.logger.Error("alert dispatch failed", "session_id", session.ID, "error", err)
	} else {
		sent = true
		s.logger.Info("alert dispatched", "session_id", session.ID, "changes", changes)
	}
	s.recorder.NotificationSent(sent)

	if err := s.database.MarkNotificationSent(ctx, session.ID, sent); err != nil {
		s.logger.Error("recording notification state failed", "session_id", session.ID, "error", err)
	}
	return sent
}
