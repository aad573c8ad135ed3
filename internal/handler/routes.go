package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/playlist"
)

var proxyMethods = []string{http.MethodGet, http.MethodHead}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.Match(proxyMethods, playlist.ProxyPath, proxy.HandleQuery)
	e.OPTIONS(playlist.ProxyPath, proxy.Preflight)

	e.Match(proxyMethods, "/proxy/*", proxy.HandlePath)
	e.OPTIONS("/proxy/*", proxy.Preflight)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
