package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/ava/internal/logging"
)

const (
	// CookieName identifies the browser of a viewer across requests.
	CookieName = "device_id"
	// SessionQueryParam overrides the cookie session when present.
	SessionQueryParam = "session_id"

	sessionContextKey = "ava.session_id"
	cookieMaxAge      = 365 * 24 * time.Hour
)

// SessionMiddleware resolves the session of every request. A missing
// device_id cookie is issued with a fresh id.
func SessionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			deviceID := ""
			if cookie, err := c.Cookie(CookieName); err == nil {
				deviceID = cookie.Value
			}
			if deviceID == "" {
				deviceID = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     CookieName,
					Value:    deviceID,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			sessionID := deviceID
			if override := c.QueryParam(SessionQueryParam); override != "" {
				sessionID = override
			}

			c.Set(sessionContextKey, sessionID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithSessionID(req.Context(), sessionID)))
			return next(c)
		}
	}
}

// SessionID returns the session resolved by SessionMiddleware.
func SessionID(c echo.Context) string {
	if id, ok := c.Get(sessionContextKey).(string); ok {
		return id
	}
	return ""
}
