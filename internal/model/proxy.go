// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is one inbound request for a target URL, created by the dispatcher
// and discarded once the response has been written. Header carries only the
// forwardable subset of the inbound headers (Accept, Referer, User-Agent).
type ProxyRequest struct {
	Ctx       context.Context
	TargetURL string
	Header    http.Header
	RequestID string
}

// FetchResult is a successful upstream response, handed to the classifier.
// URL is the effective URL after redirects.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        io.ReadCloser
}
