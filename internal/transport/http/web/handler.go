// Package web serves the browser facing routes: the index page, the live
// event stream and audio submission.
package web

import (
	"context"
	"embed"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/ava/internal/bus"
	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/stream"
)

//go:embed static/index.html
var staticFS embed.FS

// Submitter starts a run for an uploaded clip.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, audio io.Reader) (domain.SubmitStatus, error)
}

// Subscriber opens live subscriptions on the session bus.
type Subscriber interface {
	Subscribe(sessionID string) (*bus.Receiver, error)
	Stats() bus.Stats
}

// Handler handles HTTP requests.
type Handler struct {
	service   Submitter
	bus       Subscriber
	renderer  stream.Renderer
	keepAlive time.Duration
	logger    *slog.Logger

	base context.Context
	stop context.CancelFunc
}

// NewHandler creates a new handler. A zero keepAlive uses the stream default.
func NewHandler(service Submitter, b Subscriber, renderer stream.Renderer, keepAlive time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Handler{
		service:   service,
		bus:       b,
		renderer:  renderer,
		keepAlive: keepAlive,
		logger:    logger,
		base:      base,
		stop:      stop,
	}
}

// Close ends every open event stream. http.Server.Shutdown does not cancel
// the context of active requests, so call this before shutting down.
func (h *Handler) Close() {
	h.stop()
}

// RegisterRoutes registers the browser routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	session := SessionMiddleware()
	e.GET("/", h.Index, session)
	e.GET("/events", h.Events, session)
	e.POST("/assistant", h.Assistant, session)

	e.GET("/health", h.Health)
}

// Index serves the single page client.
func (h *Handler) Index(c echo.Context) error {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, page)
}

// Events streams the session's events as text/event-stream until the client
// goes away.
func (h *Handler) Events(c echo.Context) error {
	sessionID := SessionID(c)
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	unlink := context.AfterFunc(h.base, cancel)
	defer unlink()

	rx, err := h.bus.Subscribe(sessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to subscribe", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	defer rx.Close()

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	h.logger.DebugContext(ctx, "event stream opened")

	frames := stream.Open(ctx, rx, h.renderer, stream.Options{KeepAlive: h.keepAlive, Logger: h.logger})
	for frame := range frames {
		if _, err := frame.WriteTo(resp); err != nil {
			h.logger.DebugContext(ctx, "event stream closed", slog.Any("error", err))
			return nil
		}
		resp.Flush()
	}

	h.logger.DebugContext(ctx, "event stream closed")
	return nil
}

type submitResponse struct {
	Status domain.SubmitStatus `json:"status"`
}

// Assistant accepts a recorded clip in the multipart field "audio" and runs
// the pipeline for the caller's session.
func (h *Handler) Assistant(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, submitResponse{Status: domain.SubmitStatusError})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, submitResponse{Status: domain.SubmitStatusError})
	}
	defer f.Close()

	status, err := h.service.Submit(ctx, SessionID(c), f)
	if err != nil {
		h.logger.WarnContext(ctx, "submit failed", slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, submitResponse{Status: status})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	stats := h.bus.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"sessions":    stats.Sessions,
		"subscribers": stats.Subscribers,
	})
}
