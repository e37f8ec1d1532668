// Package httpapi exposes the operational HTTP endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
)

const (
	defaultLimit = 5
	maxLimit     = 100
)

// OpsHandler serves health, metrics and checkpoint listings.
type OpsHandler struct {
	store   ports.CheckpointStore
	metrics *metrics.Collector
	active  func() int
}

// NewOpsHandler builds the handler. active reports live sessions and may be nil.
func NewOpsHandler(store ports.CheckpointStore, m *metrics.Collector, active func() int) *OpsHandler {
	return &OpsHandler{store: store, metrics: m, active: active}
}

// Register mounts the endpoints on e.
func (h *OpsHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.health)
	if reg := h.metrics.Registry(); reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	e.GET("/checkpoints", h.recent)
	e.GET("/checkpoints/:topic/latest", h.latest)
}

// NewServer returns an echo instance with the ops routes and request logging.
func NewServer(h *OpsHandler, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request", zap.String("uri", v.URI), zap.Int("status", v.Status), zap.Error(v.Error))
			return nil
		},
	}))
	h.Register(e)
	return e
}

// Serve runs e on addr until ctx ends, then shuts it down.
func Serve(ctx context.Context, e *echo.Echo, addr string) error {
	errc := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

type checkpointView struct {
	Seq       int64           `json:"seq"`
	Topic     string          `json:"topic"`
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage"`
	CreatedAt time.Time       `json:"created_at"`
	Size      int             `json:"size"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

func view(rec domain.CheckpointRecord, withSnapshot bool) checkpointView {
	v := checkpointView{
		Seq:       rec.Seq,
		Topic:     rec.Topic,
		SessionID: rec.SessionID,
		Stage:     rec.Stage,
		CreatedAt: rec.CreatedAt,
		Size:      len(rec.Snapshot),
	}
	if withSnapshot && json.Valid(rec.Snapshot) {
		v.Snapshot = rec.Snapshot
	}
	return v
}

func (h *OpsHandler) health(c echo.Context) error {
	resp := map[string]any{"status": "ok"}
	if h.active != nil {
		resp["sessions"] = h.active()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *OpsHandler) recent(c echo.Context) error {
	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxLimit)
	}

	recs, err := h.store.Recent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	out := make([]checkpointView, len(recs))
	for i, rec := range recs {
		out[i] = view(rec, false)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OpsHandler) latest(c echo.Context) error {
	rec, err := h.store.Latest(c.Request().Context(), c.Param("topic"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no checkpoint for topic")
	case err != nil:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, view(rec, true))
}
