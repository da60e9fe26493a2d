// Package middleware provides Echo middleware for logging, metrics and
// dashboard response headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests for the given quiet paths (health probes, metrics scrapes) are
// logged at debug level so they do not drown the forwarding log.
func RequestLogger(logger *slog.Logger, quietPaths ...string) echo.MiddlewareFunc {
	quiet := make(map[string]bool, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if quiet[req.URL.Path] {
				level = slog.LevelDebug
			}
			if err != nil {
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"origin", req.Header.Get(echo.HeaderOrigin),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
