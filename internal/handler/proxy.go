package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/client"
	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/playlist"
	"hls-proxy-go/internal/service"
)

// targetPattern is the boundary check for target URLs; nothing else is fetched.
var targetPattern = regexp.MustCompile(`(?i)^https?://.+`)

// credentialsPattern matches userinfo embedded in URLs quoted by error messages.
var credentialsPattern = regexp.MustCompile(`(?i)(https?://)[^/@\s"]+@`)

// forwardableRequestHeaders are the only inbound headers passed to the upstream fetch.
var forwardableRequestHeaders = []string{
	"Accept",
	"Referer",
	"User-Agent",
}

// ProxyHandler is the entry point for proxy routes. It extracts and validates
// the target URL, runs the proxy pipeline and writes either a rewritten
// playlist, a passthrough stream or the JSON error envelope.
type ProxyHandler struct {
	service      *service.ProxyService
	logger       *slog.Logger
	metrics      *metrics.Metrics
	cacheControl string
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service:      svc,
		logger:       logger.With("component", "proxy_handler"),
		metrics:      m,
		cacheControl: "public, max-age=" + strconv.Itoa(cfg.Proxy.CacheTTLSeconds),
	}
}

// errorResponse is the body of every failed proxy request.
type errorResponse struct {
	Success   bool    `json:"success"`
	Error     string  `json:"error"`
	TargetURL *string `json:"targetUrl"`
}

// HandleQuery serves GET|HEAD /api/proxy?url=<encoded-url>.
func (h *ProxyHandler) HandleQuery(c echo.Context) error {
	return h.handle(c, c.QueryParam("url"))
}

// HandlePath serves GET|HEAD /proxy/<encoded-url>. A target whose own query
// string was not encoded arrives as the request query and is re-attached.
func (h *ProxyHandler) HandlePath(c echo.Context) error {
	req := c.Request()
	_, escaped, _ := strings.Cut(req.URL.EscapedPath(), "/proxy/")

	raw, err := url.PathUnescape(escaped)
	if err != nil {
		return h.writeError(c, escaped, &model.InvalidTargetError{Reason: "malformed percent-encoding"})
	}
	if raw != "" && req.URL.RawQuery != "" && !strings.Contains(raw, "?") {
		raw += "?" + req.URL.RawQuery
	}
	return h.handle(c, raw)
}

// Preflight answers CORS preflight requests. The CORS middleware sets the
// allow headers; preflight responses are additionally cacheable for a day.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	c.Response().Header().Set("Access-Control-Max-Age", "86400")
	return c.NoContent(http.StatusNoContent)
}

func (h *ProxyHandler) handle(c echo.Context, raw string) error {
	target, err := parseTarget(raw)
	if err != nil {
		return h.writeError(c, raw, err)
	}

	req := c.Request()
	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		TargetURL: target,
		Header:    filterRequestHeaders(req.Header),
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}

	res, err := h.service.Proxy(pr)
	if err != nil {
		return h.writeError(c, target, err)
	}

	if res.Stream != nil {
		return h.stream(c, res.Stream)
	}

	h.logger.Debug("playlist rewritten",
		"target", target,
		"manifest", res.ManifestURL,
		"depth", res.Depth,
		"request_id", pr.RequestID,
	)

	c.Response().Header().Set("Cache-Control", h.cacheControl)
	return c.Blob(http.StatusOK, playlist.ContentType, res.Manifest)
}

// parseTarget validates a decoded target URL. Only absolute http(s) URLs with
// a host are accepted.
func parseTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &model.InvalidTargetError{Reason: "missing url parameter"}
	}
	if !targetPattern.MatchString(raw) {
		return "", &model.InvalidTargetError{Reason: "only absolute http and https urls are accepted"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", &model.InvalidTargetError{Reason: "malformed url"}
	}
	return raw, nil
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
	return dst
}

// writeError logs err and writes the JSON error envelope.
func (h *ProxyHandler) writeError(c echo.Context, target string, err error) error {
	status, msg := mapError(err)

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(c.Request().Context(), level, "proxy error",
		"err", sanitizeError(err),
		"status", status,
		"path", c.Request().URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	body := errorResponse{Success: false, Error: msg}
	if target != "" {
		body.TargetURL = &target
	}
	return c.JSON(status, body)
}

// mapError returns the response status and client-facing message for err.
// The status is the upstream's when one is known, otherwise 400 for bad
// targets and 500 for everything else.
func mapError(err error) (int, string) {
	var invalid *model.InvalidTargetError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, invalid.Error()
	}

	var httpErr *model.UpstreamHTTPError
	if errors.As(err, &httpErr) {
		status := httpErr.Status
		if status < http.StatusBadRequest || status > 599 {
			status = http.StatusBadGateway
		}
		return status, httpErr.Error()
	}

	var limitErr *model.RecursionLimitError
	if errors.As(err, &limitErr) {
		return http.StatusInternalServerError, limitErr.Error()
	}

	var contentErr *model.UnexpectedContentError
	if errors.As(err, &contentErr) {
		return http.StatusInternalServerError, sanitizeError(contentErr)
	}

	var netErr *model.UpstreamNetworkError
	if errors.As(err, &netErr) {
		return http.StatusInternalServerError, networkMessage(netErr)
	}

	return http.StatusInternalServerError, sanitizeError(err)
}

// networkMessage describes why an upstream fetch failed outright.
func networkMessage(err error) string {
	if client.IsTimeout(err) {
		return "upstream request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream connection failed"
	}

	return "upstream request failed"
}

// sanitizeError redacts credentials from URLs that appear in error messages.
func sanitizeError(err error) string {
	return credentialsPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
