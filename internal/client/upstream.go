// Package client provides the upstream HTTP client that fetches manifests and segments.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
)

// UpstreamClient fetches remote resources on behalf of proxy clients, presenting
// browser-like request headers to the origin.
type UpstreamClient struct {
	httpClient *http.Client
	userAgents []string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// The client has no overall timeout: segment bodies may legitimately stream for
// longer than any fixed bound. The transport bounds the wait for response
// headers, and callers bound body reads through the request context.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*UpstreamClient, error) {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DialContext:           dialer.DialContext,
	}

	if cfg.Upstream.ProxyURL != "" {
		if err := configureEgressProxy(transport, dialer, cfg.Upstream.ProxyURL); err != nil {
			return nil, err
		}
	}

	userAgents := cfg.Upstream.UserAgents
	if len(userAgents) == 0 {
		userAgents = config.DefaultUserAgents
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgents: userAgents,
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}, nil
}

// configureEgressProxy routes outbound connections through a SOCKS5 or HTTP proxy.
func configureEgressProxy(transport *http.Transport, dialer *net.Dialer, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse upstream proxy_url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return fmt.Errorf("socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
		return nil
	default:
		return fmt.Errorf("unsupported upstream proxy scheme %q", u.Scheme)
	}
}

// Fetch performs a GET for target and returns the response with its body still open.
// The caller is responsible for closing FetchResult.Body.
//
// Non-2xx responses are returned as *model.UpstreamHTTPError and transport
// failures as *model.UpstreamNetworkError. The context controls the lifetime of
// the upstream request including its body: when it is canceled (e.g. the client
// disconnects) the upstream read is aborted too.
func (c *UpstreamClient) Fetch(ctx context.Context, target string, incoming http.Header) (*model.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &model.UpstreamNetworkError{URL: target, Err: fmt.Errorf("build upstream request: %w", err)}
	}
	req.Header = c.buildHeaders(req.URL, incoming)

	c.logger.Debug("upstream request",
		"url", target,
		"user_agent", req.Header.Get("User-Agent"),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via FetchResult
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err != nil {
		return nil, &model.UpstreamNetworkError{URL: target, Err: err}
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &model.UpstreamHTTPError{
			URL:        target,
			Status:     resp.StatusCode,
			StatusText: reasonPhrase(resp),
		}
	}

	effective := target
	if resp.Request != nil && resp.Request.URL != nil {
		effective = resp.Request.URL.String()
	}

	return &model.FetchResult{
		URL:         effective,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        resp.Body,
	}, nil
}

// buildHeaders assembles the outbound headers: a random User-Agent from the pool,
// the client's Accept (or */*), and the client's Referer or the target's origin.
func (c *UpstreamClient) buildHeaders(target *url.URL, incoming http.Header) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", c.pickUserAgent())

	accept := incoming.Get("Accept")
	if accept == "" {
		accept = "*/*"
	}
	h.Set("Accept", accept)

	referer := incoming.Get("Referer")
	if referer == "" {
		referer = target.Scheme + "://" + target.Host
	}
	h.Set("Referer", referer)

	return h
}

func (c *UpstreamClient) pickUserAgent() string {
	return c.userAgents[rand.Intn(len(c.userAgents))]
}

// reasonPhrase returns the status text the upstream actually sent.
func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

// IsTimeout reports whether err was caused by a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
