// Package http provides the HTTP server implementation for the assistant.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	v1 "github.com/xiaot623/gogo/ava/internal/transport/http/v1"
	"github.com/xiaot623/gogo/ava/internal/transport/http/web"
)

// RouteRegistrar is implemented by every route group mounted on the server.
type RouteRegistrar interface {
	RegisterRoutes(e *echo.Echo)
}

// Options configures NewServer.
type Options struct {
	// AssetsDir is served under AssetsURLPrefix.
	AssetsDir       string
	AssetsURLPrefix string
	// History is nil when the journal is disabled.
	History v1.History
	// Extra route groups, such as the websocket endpoint.
	Extra []RouteRegistrar
}

// NewServer creates and configures the public HTTP server.
func NewServer(webHandler *web.Handler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("ava")))

	// Register Routes
	webHandler.RegisterRoutes(e)
	if opts.AssetsDir != "" {
		prefix := opts.AssetsURLPrefix
		if prefix == "" {
			prefix = "/assets"
		}
		e.Static(prefix, opts.AssetsDir)
	}
	if opts.History != nil {
		v1.NewHandler(opts.History).RegisterRoutes(e)
	}
	for _, r := range opts.Extra {
		r.RegisterRoutes(e)
	}

	return e
}
