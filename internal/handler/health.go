package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// statusResponse reports the effective proxy settings.
type statusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	MaxRecursion    int    `json:"max_recursion"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	PublicBaseURL   string `json:"public_base_url,omitempty"`
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:          "ok",
		Version:         string(h.version),
		MaxRecursion:    h.cfg.Proxy.MaxRecursion,
		CacheTTLSeconds: h.cfg.Proxy.CacheTTLSeconds,
		PublicBaseURL:   h.cfg.Proxy.PublicBaseURL,
	})
}
