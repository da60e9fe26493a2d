package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bridge-proxy-go/internal/config"
	"bridge-proxy-go/internal/metrics"
)

// RegisterProxyRoutes wires the forwarding surface onto the proxy listener.
// Methods other than GET, HEAD and POST are answered by the router with 405.
func RegisterProxyRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/*", proxy.Read)
	e.POST("/*", proxy.Write)
}

// RegisterDashboardRoutes wires health, metrics and the static dashboard
// directory onto the dashboard listener. m may be nil when metrics are disabled.
func RegisterDashboardRoutes(e *echo.Echo, cfg *config.Config, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if m != nil && cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Static("/", cfg.Dashboard.Dir)
}
