package middleware

import (
	"github.com/labstack/echo/v4"
)

// DashboardHeaders returns an Echo middleware for the static dashboard. The
// pages are edited while the controller runs, so they are never cached.
func DashboardHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set(echo.HeaderXFrameOptions, "DENY")
			h.Set(echo.HeaderCacheControl, "no-cache")

			return next(c)
		}
	}
}
