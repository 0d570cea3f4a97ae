package http_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/ava/internal/bus"
	"github.com/xiaot623/gogo/ava/internal/render"
	"github.com/xiaot623/gogo/ava/internal/service"
	transporthttp "github.com/xiaot623/gogo/ava/internal/transport/http"
	"github.com/xiaot623/gogo/ava/internal/transport/http/web"
	"github.com/xiaot623/gogo/ava/tests/helpers"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
}

func newWebHandler(t *testing.T) *web.Handler {
	t.Helper()
	registry := bus.NewRegistry(bus.DefaultCapacity)
	t.Cleanup(registry.Close)
	renderer, err := render.NewHTML()
	require.NoError(t, err)
	svc := service.New(service.Dependencies{Bus: registry})
	return web.NewHandler(svc, registry, renderer, 0, nil)
}

func TestServerServesAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "audio", "s1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audio", "s1", "a.mp3"), []byte("mp3"), 0o644))

	e := transporthttp.NewServer(newWebHandler(t), transporthttp.Options{AssetsDir: dir, AssetsURLPrefix: "/assets"})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/audio/s1/a.mp3", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp3", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestServerHistoryRoutesOptional(t *testing.T) {
	e := transporthttp.NewServer(newWebHandler(t), transporthttp.Options{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/turn-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e = transporthttp.NewServer(newWebHandler(t), transporthttp.Options{History: helpers.NewTestSQLiteStore(t)})

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/turn-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"run not found"}`, rec.Body.String())
}

func TestServerMountsExtraRoutes(t *testing.T) {
	e := transporthttp.NewServer(newWebHandler(t), transporthttp.Options{
		Extra: []transporthttp.RouteRegistrar{pingRoutes{}},
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
