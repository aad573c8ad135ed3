// Package service drives one proxy request through fetch, classification,
// master playlist resolution and rewriting.
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"hls-proxy-go/internal/client"
	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/playlist"
)

// ErrManifestTooLarge is returned when a playlist body exceeds proxy.max_manifest_bytes.
var ErrManifestTooLarge = errors.New("manifest exceeds size limit")

// Fetcher performs upstream GETs. *client.UpstreamClient implements it.
type Fetcher interface {
	Fetch(ctx context.Context, target string, incoming http.Header) (*model.FetchResult, error)
}

// Result is the outcome of a proxy request. Exactly one of Manifest and Stream is set.
type Result struct {
	Kind playlist.Kind

	// Manifest is the rewritten media playlist; ManifestURL is the URL it was
	// fetched from after redirects and master resolution.
	Manifest    []byte
	ManifestURL string
	Depth       int

	// Stream is opaque upstream content. The caller must close Stream.Body.
	Stream *model.FetchResult
}

// ProxyService runs the proxy pipeline for a single target URL.
type ProxyService struct {
	fetcher          Fetcher
	logger           *slog.Logger
	metrics          *metrics.Metrics
	timeout          time.Duration
	maxRecursion     int
	maxManifestBytes int64
	publicBase       string
	cacheSize        int
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return newProxyService(c, cfg, logger, m)
}

func newProxyService(f Fetcher, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		fetcher:          f,
		logger:           logger.With("component", "proxy_service"),
		metrics:          m,
		timeout:          time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		maxRecursion:     cfg.Proxy.MaxRecursion,
		maxManifestBytes: cfg.Proxy.MaxManifestBytes,
		publicBase:       cfg.Proxy.PublicBaseURL,
		cacheSize:        cfg.Proxy.RewriteCacheSize,
	}
}

// Proxy fetches pr.TargetURL and returns either a rewritten media playlist or
// the opaque upstream stream.
//
// Master playlists are resolved in a loop: each master hop increments the
// depth, and a chain with more than max_recursion masters fails with
// *model.RecursionLimitError. Hops are strictly sequential.
func (s *ProxyService) Proxy(pr *model.ProxyRequest) (*Result, error) {
	// The first fetch may turn out to be a long segment stream, so it gets a
	// timer that is stopped once the content is known to be opaque rather than
	// a fixed deadline.
	ctx, cancel := context.WithCancelCause(pr.Ctx)
	timer := time.AfterFunc(s.timeout, func() { cancel(context.DeadlineExceeded) })

	res, err := s.fetcher.Fetch(ctx, pr.TargetURL, pr.Header)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, s.upstreamError(pr.Ctx, ctx, pr.TargetURL, err)
	}

	br := bufio.NewReaderSize(res.Body, playlist.SniffLen)
	head, err := br.Peek(playlist.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		timer.Stop()
		_ = res.Body.Close()
		cancel(nil)
		return nil, s.upstreamError(pr.Ctx, ctx, res.URL, &model.UpstreamNetworkError{URL: res.URL, Err: err})
	}

	if !playlist.LooksLikePlaylist(head) {
		if !timer.Stop() {
			// The deadline fired after the sniff; the stream is already cancelled.
			_ = res.Body.Close()
			cancel(nil)
			return nil, s.upstreamError(pr.Ctx, ctx, res.URL, context.DeadlineExceeded)
		}
		s.observeKind(playlist.Opaque)
		if playlist.HasPlaylistMIME(res.ContentType) {
			s.logger.Debug("content-type claims a playlist but body is not one, passing through",
				"url", res.URL,
				"content_type", res.ContentType,
				"request_id", pr.RequestID,
			)
		} else {
			s.logger.Debug("passthrough",
				"url", res.URL,
				"content_type", res.ContentType,
				"request_id", pr.RequestID,
			)
		}
		res.Body = &streamBody{Reader: br, closer: res.Body, cancel: cancel}
		return &Result{Kind: playlist.Opaque, Stream: res}, nil
	}

	body, err := s.readManifest(br)
	timer.Stop()
	_ = res.Body.Close()
	cancel(nil)
	if err != nil {
		return nil, s.upstreamError(pr.Ctx, ctx, res.URL, err)
	}

	kind := playlist.Classify(body)
	s.observeKind(kind)

	return s.resolve(pr, res.URL, string(body), kind)
}

// resolve follows master playlists down to a media playlist and rewrites it.
func (s *ProxyService) resolve(pr *model.ProxyRequest, manifestURL, content string, kind playlist.Kind) (*Result, error) {
	rw := playlist.NewRewriter(s.publicBase, playlist.NewRewriteCache(s.cacheSize), s.logger)
	defer func() {
		if s.metrics != nil && rw.Failures() > 0 {
			s.metrics.ResolutionFailures.Add(float64(rw.Failures()))
		}
	}()

	depth := 0
	for kind == playlist.Master {
		depth++
		if depth > s.maxRecursion {
			return nil, &model.RecursionLimitError{Limit: s.maxRecursion}
		}

		v, ok := playlist.SelectVariant(content)
		if !ok {
			s.logger.Warn("master playlist references no variant, rewriting as media",
				"url", manifestURL,
				"request_id", pr.RequestID,
			)
			break
		}

		base, err := playlist.BaseURL(manifestURL)
		if err != nil {
			return nil, fmt.Errorf("resolve variant of %s: %w", manifestURL, err)
		}
		variantURL := rw.ResolveURL(base, v.URI)
		if !playlist.IsAbsoluteHTTP(variantURL) {
			return nil, fmt.Errorf("variant reference %q of %s is not an http(s) url", v.URI, manifestURL)
		}

		s.logger.Debug("selected variant",
			"master", manifestURL,
			"variant", variantURL,
			"bandwidth", v.Bandwidth,
			"depth", depth,
			"request_id", pr.RequestID,
		)

		manifestURL, content, kind, err = s.fetchPlaylist(pr, variantURL)
		if err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.ResolveDepth.Observe(float64(depth))
	}

	return &Result{
		Kind:        playlist.Media,
		Manifest:    []byte(rw.RewriteMedia(manifestURL, content)),
		ManifestURL: manifestURL,
		Depth:       depth,
	}, nil
}

// fetchPlaylist fetches a variant that must be a playlist. The fetch and the
// body read share one deadline. Variants without #EXTM3U are accepted as long
// as the body is text.
func (s *ProxyService) fetchPlaylist(pr *model.ProxyRequest, target string) (string, string, playlist.Kind, error) {
	ctx, cancel := context.WithTimeout(pr.Ctx, s.timeout)
	defer cancel()

	res, err := s.fetcher.Fetch(ctx, target, pr.Header)
	if err != nil {
		return "", "", playlist.Opaque, s.upstreamError(pr.Ctx, ctx, target, err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := s.readManifest(res.Body)
	if err != nil {
		return "", "", playlist.Opaque, s.upstreamError(pr.Ctx, ctx, res.URL, err)
	}

	kind := playlist.ClassifyVariant(body)
	s.observeKind(kind)
	if kind == playlist.Opaque {
		return "", "", kind, &model.UnexpectedContentError{URL: res.URL, ContentType: res.ContentType}
	}
	if !playlist.LooksLikePlaylist(body) {
		s.logger.Debug("variant has no #EXTM3U header, treating as playlist",
			"url", res.URL,
			"content_type", res.ContentType,
			"playlist_mime", playlist.HasPlaylistMIME(res.ContentType),
			"request_id", pr.RequestID,
		)
	}
	return res.URL, string(body), kind, nil
}

func (s *ProxyService) readManifest(r io.Reader) ([]byte, error) {
	limit := s.maxManifestBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrManifestTooLarge, limit)
	}
	return body, nil
}

// upstreamError reports an upstream failure caused by our own deadline as a
// timeout rather than a cancellation. Read errors are wrapped as network errors.
func (s *ProxyService) upstreamError(parent, ctx context.Context, target string, err error) error {
	if parent.Err() == nil && errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return &model.UpstreamNetworkError{
			URL: target,
			Err: fmt.Errorf("no response within %s: %w", s.timeout, context.DeadlineExceeded),
		}
	}

	var netErr *model.UpstreamNetworkError
	var httpErr *model.UpstreamHTTPError
	if errors.As(err, &netErr) || errors.As(err, &httpErr) || errors.Is(err, ErrManifestTooLarge) {
		return err
	}
	return &model.UpstreamNetworkError{URL: target, Err: err}
}

func (s *ProxyService) observeKind(k playlist.Kind) {
	if s.metrics != nil {
		s.metrics.Classified.WithLabelValues(k.String()).Inc()
	}
}

// streamBody reads the buffered upstream body and releases the request
// context once the caller is done with it.
type streamBody struct {
	io.Reader
	closer io.Closer
	cancel context.CancelCauseFunc
}

func (b *streamBody) Close() error {
	err := b.closer.Close()
	b.cancel(nil)
	return err
}

// compile-time check
var _ Fetcher = (*client.UpstreamClient)(nil)
