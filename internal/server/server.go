// Package server exposes a read-only HTTP view of areas, alert sessions
// and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"geowatch/internal/model"
	"geowatch/internal/monitor"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Reader is the part of the monitor service the API reads from.
type Reader interface {
	ListAreas(ctx context.Context) ([]*model.AreaConfig, error)
	GetArea(ctx context.Context, id string) (*model.AreaConfig, error)
	ListSessions(ctx context.Context, areaID string, limit int) ([]*model.AlertSession, error)
	SessionDetails(ctx context.Context, sessionID string) (*model.AlertSession, []*model.AlertDetail, error)
	GetHistory(ctx context.Context, limit int) ([]*model.MonitorPass, error)
}

var _ Reader = (*monitor.Service)(nil)

// Server wraps an echo instance with the geowatch routes.
type Server struct {
	echo   *echo.Echo
	reader Reader
	logger monitor.Logger
}

// New builds the router. metrics may be nil to leave /metrics unrouted.
func New(reader Reader, metrics http.Handler, logger monitor.Logger) *Server {
	if logger == nil {
		logger = monitor.NewNopLogger()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, reader: reader, logger: logger}

	e.GET("/healthz", s.health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	api := e.Group("/api/v1")
	api.GET("/areas", s.listAreas)
	api.GET("/areas/:id", s.getArea)
	api.GET("/areas/:id/sessions", s.listSessions)
	api.GET("/sessions/:id/details", s.sessionDetails)
	api.GET("/passes", s.listPasses)

	return s
}

// Handler returns the router for use with httptest or a custom server.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("status server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listAreas(c echo.Context) error {
	areas, err := s.reader.ListAreas(c.Request().Context())
	if err != nil {
		return s.internalError("list areas", err)
	}
	out := make([]areaView, 0, len(areas))
	for _, a := range areas {
		out = append(out, newAreaView(a))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getArea(c echo.Context) error {
	area, err := s.reader.GetArea(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.lookupError("get area", err)
	}
	return c.JSON(http.StatusOK, newAreaView(area))
}

func (s *Server) listSessions(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	areaID := c.Param("id")
	if _, err := s.reader.GetArea(ctx, areaID); err != nil {
		return s.lookupError("get area", err)
	}
	sessions, err := s.reader.ListSessions(ctx, areaID, limit)
	if err != nil {
		return s.internalError("list sessions", err)
	}
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, newSessionView(sess))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) sessionDetails(c echo.Context) error {
	session, details, err := s.reader.SessionDetails(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.lookupError("session details", err)
	}
	out := sessionDetailsView{
		Session: newSessionView(session),
		Details: make([]detailView, 0, len(details)),
	}
	for _, d := range details {
		out.Details = append(out.Details, newDetailView(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listPasses(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	passes, err := s.reader.GetHistory(c.Request().Context(), limit)
	if err != nil {
		return s.internalError("list passes", err)
	}
	out := make([]passView, 0, len(passes))
	for _, p := range passes {
		out = append(out, newPassView(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) lookupError(op string, err error) error {
	if errors.Is(err, monitor.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return s.internalError(op, err)
}

func (s *Server) internalError(op string, err error) error {
	s.logger.Error("status api request failed", "op", op, "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}

func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

type areaView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CenterLat float64   `json:"center_lat"`
	CenterLon float64   `json:"center_lon"`
	NorthKm   float64   `json:"north_km"`
	SouthKm   float64   `json:"south_km"`
	EastKm    float64   `json:"east_km"`
	WestKm    float64   `json:"west_km"`
	CreatedAt time.Time `json:"created_at"`
}

func newAreaView(a *model.AreaConfig) areaView {
	return areaView{
		ID:        a.ID,
		Name:      a.Name,
		CenterLat: a.CenterLat,
		CenterLon: a.CenterLon,
		NorthKm:   a.NorthKm,
		SouthKm:   a.SouthKm,
		EastKm:    a.EastKm,
		WestKm:    a.WestKm,
		CreatedAt: a.CreatedAt,
	}
}

type sessionView struct {
	ID                   string     `json:"id"`
	AreaID               string     `json:"area_config_id"`
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at"`
	Status               string     `json:"status"`
	TotalChangesDetected int64      `json:"total_changes_detected"`
	TilesCompared        int64      `json:"tiles_compared"`
	TilesErrored         int64      `json:"tiles_errored"`
	NotificationSent     bool       `json:"notification_sent"`
}

func newSessionView(s *model.AlertSession) sessionView {
	v := sessionView{
		ID:                   s.ID,
		AreaID:               s.AreaID,
		StartedAt:            s.StartedAt,
		Status:               string(s.Status),
		TotalChangesDetected: s.TotalChangesDetected,
		TilesCompared:        s.TilesCompared,
		TilesErrored:         s.TilesErrored,
		NotificationSent:     s.NotificationSent,
	}
	if s.FinishedAt.Valid {
		t := s.FinishedAt.Time
		v.FinishedAt = &t
	}
	return v
}

type detailView struct {
	ID               string        `json:"id"`
	TileCaptureID    string        `json:"tile_capture_id"`
	PreviousImageRef string        `json:"previous_image_ref"`
	CurrentImageRef  string        `json:"current_image_ref"`
	ChangeLog        changeLogView `json:"change_log"`
	CreatedAt        time.Time     `json:"created_at"`
}

type changeLogView struct {
	Changed       bool    `json:"changed"`
	ChangePercent float64 `json:"change_percent"`
	Message       string  `json:"message"`
	Error         bool    `json:"error"`
}

func newDetailView(d *model.AlertDetail) detailView {
	return detailView{
		ID:               d.ID,
		TileCaptureID:    d.TileCaptureID,
		PreviousImageRef: d.PreviousImageRef,
		CurrentImageRef:  d.CurrentImageRef,
		ChangeLog:        changeLogView(d.ChangeLog),
		CreatedAt:        d.CreatedAt,
	}
}

type sessionDetailsView struct {
	Session sessionView  `json:"session"`
	Details []detailView `json:"details"`
}

type passView struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Status      string     `json:"status"`
	AreasTotal  int64      `json:"areas_total"`
	AreasFailed int64      `json:"areas_failed"`
}

func newPassView(p *model.MonitorPass) passView {
	v := passView{
		ID:          p.ID,
		StartedAt:   p.StartedAt,
		Status:      string(p.Status),
		AreasTotal:  p.AreasTotal,
		AreasFailed: p.AreasFailed,
	}
	if p.FinishedAt.Valid {
		t := p.FinishedAt.Time
		v.FinishedAt = &t
	}
	return v
}
