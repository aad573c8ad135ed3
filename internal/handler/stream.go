package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/model"
)

// strippedResponseHeaders are upstream headers never copied to a passthrough
// response. The server recomputes framing, and CORS belongs to the proxy.
var strippedResponseHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Host":              true,
}

// copyPassthroughHeaders copies upstream headers into dst, skipping framing
// headers, Access-Control-* headers and anything the proxy already set.
func copyPassthroughHeaders(dst, src http.Header) {
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if strippedResponseHeaders[ck] || strings.HasPrefix(ck, "Access-Control-") {
			continue
		}
		if _, owned := dst[ck]; owned {
			continue
		}
		for _, v := range vals {
			dst.Add(ck, v)
		}
	}
}

// stream pipes opaque upstream content to the client without buffering it.
func (h *ProxyHandler) stream(c echo.Context, res *model.FetchResult) error {
	defer func() { _ = res.Body.Close() }()

	header := c.Response().Header()
	copyPassthroughHeaders(header, res.Header)
	if res.ContentType != "" {
		header.Set(echo.HeaderContentType, res.ContentType)
	}
	header.Set("Cache-Control", h.cacheControl)

	c.Response().WriteHeader(res.StatusCode)
	if c.Request().Method == http.MethodHead {
		return nil
	}

	// The status line is already out; a failed copy can only truncate the body.
	n, err := io.Copy(c.Response(), res.Body)
	if h.metrics != nil {
		h.metrics.PassthroughBytes.Add(float64(n))
	}
	if err != nil {
		h.logger.Warn("streaming response body",
			"err", sanitizeError(err),
			"url", res.URL,
			"bytes", n,
		)
	}

	return nil
}
