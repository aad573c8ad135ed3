package model

import (
	"fmt"
	"net/http"
)

// InvalidTargetError is returned when the inbound request carries no usable
// http(s) target URL. No upstream call is made.
type InvalidTargetError struct {
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return "invalid target url: " + e.Reason
}

// UpstreamHTTPError is returned when the upstream answers with a non-2xx status.
type UpstreamHTTPError struct {
	URL        string
	Status     int
	StatusText string
}

func (e *UpstreamHTTPError) Error() string {
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	return fmt.Sprintf("upstream responded %d %s", e.Status, text)
}

// UpstreamNetworkError is returned when the upstream fetch fails outright
// (DNS, TLS, connection, timeout, cancellation).
type UpstreamNetworkError struct {
	URL string
	Err error
}

func (e *UpstreamNetworkError) Error() string {
	return fmt.Sprintf("upstream fetch %s: %v", e.URL, e.Err)
}

func (e *UpstreamNetworkError) Unwrap() error { return e.Err }

// RecursionLimitError is returned when a chain of master playlists is deeper
// than the configured limit.
type RecursionLimitError struct {
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("master playlist recursion exceeded limit of %d", e.Limit)
}

// UnexpectedContentError is returned when a variant selected from a master
// playlist does not answer with a playlist.
type UnexpectedContentError struct {
	URL         string
	ContentType string
}

func (e *UnexpectedContentError) Error() string {
	return fmt.Sprintf("variant %s did not return a playlist (content-type %q)", e.URL, e.ContentType)
}
