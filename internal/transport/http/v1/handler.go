// Package v1 serves the run history recorded by the journal.
package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

const (
	defaultRunLimit   = 20
	defaultEventLimit = 100
)

// History is the read side of the run journal.
type History interface {
	ListRuns(ctx context.Context, sessionID string, limit int) ([]domain.Run, error)
	GetRun(ctx context.Context, turnID string) (*domain.Run, error)
	GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error)
	ListArtifacts(ctx context.Context, turnID string) ([]domain.Artifact, error)
}

// Handler handles history requests.
type Handler struct {
	history History
}

// NewHandler creates a new handler.
func NewHandler(history History) *Handler {
	return &Handler{history: history}
}

// RegisterRoutes registers the history routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/sessions/:session_id/runs", h.ListSessionRuns)
	e.GET("/v1/runs/:turn_id", h.GetRun)
	e.GET("/v1/runs/:turn_id/events", h.GetRunEvents)
}

// ListSessionRuns returns the newest runs of a session.
func (h *Handler) ListSessionRuns(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := queryInt(c, "limit", defaultRunLimit)

	runs, err := h.history.ListRuns(c.Request().Context(), sessionID, limit+1)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}

	return c.JSON(http.StatusOK, map[string]any{
		"runs":     runs,
		"has_more": hasMore,
	})
}

// GetRun returns a run together with the artifacts it produced.
func (h *Handler) GetRun(c echo.Context) error {
	turnID := c.Param("turn_id")
	ctx := c.Request().Context()

	run, err := h.history.GetRun(ctx, turnID)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	artifacts, err := h.history.ListArtifacts(ctx, turnID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"run":       run,
		"artifacts": artifacts,
	})
}

// GetRunEvents returns the recorded events of a run in publish order.
// Supports after_ts, limit and a comma separated types filter.
func (h *Handler) GetRunEvents(c echo.Context) error {
	turnID := c.Param("turn_id")
	ctx := c.Request().Context()

	if _, err := h.history.GetRun(ctx, turnID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	limit := queryInt(c, "limit", defaultEventLimit)
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			afterTs = val
		}
	}

	var types []string
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	events, err := h.history.GetEvents(ctx, turnID, afterTs, types, limit+1)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

func queryInt(c echo.Context, name string, fallback int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
