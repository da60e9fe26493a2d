package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"bridge-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request, labelled with the listener it arrived on.
func MetricsMiddleware(m *metrics.Metrics, listener string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.WithLabelValues(listener).Inc()
			defer m.RequestsInFlight.WithLabelValues(listener).Dec()

			start := time.Now()

			err := next(c)

			// A returned *echo.HTTPError has not been written yet; the
			// central error handler does that after us.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(listener, method, status, path).Inc()
			m.RequestDuration.WithLabelValues(listener, method, status, path).Observe(duration)

			return err
		}
	}
}
