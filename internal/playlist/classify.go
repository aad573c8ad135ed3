// Package playlist classifies HLS responses and rewrites playlist references so
// every follow-up fetch is routed back through the proxy.
package playlist

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// Kind is the classification of an upstream response body.
type Kind int

const (
	// Opaque content (segments, keys, images) is streamed through untouched.
	Opaque Kind = iota
	// Master playlists list renditions via #EXT-X-STREAM-INF or #EXT-X-MEDIA.
	Master
	// Media playlists list segments.
	Media
)

func (k Kind) String() string {
	switch k {
	case Master:
		return "master"
	case Media:
		return "media"
	default:
		return "opaque"
	}
}

const (
	extM3U        = "#EXTM3U"
	tagStreamInf  = "#EXT-X-STREAM-INF"
	tagMediaAttrs = "#EXT-X-MEDIA:"
)

// SniffLen is the number of leading bytes Classify needs to tell a playlist
// from opaque content.
const SniffLen = 1024

var utf8BOM = []byte("\xef\xbb\xbf")

// HasPlaylistMIME reports whether a content-type names an HLS playlist
// (application/vnd.apple.mpegurl, application/x-mpegURL, audio/mpegurl, ...).
func HasPlaylistMIME(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "mpegurl")
}

// LooksLikePlaylist reports whether body, after leading whitespace and an
// optional UTF-8 BOM, starts with #EXTM3U. body may be a prefix of the full payload.
func LooksLikePlaylist(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	trimmed = bytes.TrimPrefix(trimmed, utf8BOM)
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte(extM3U))
}

// Classify decides whether body is a master playlist, a media playlist or
// opaque content. Only the body counts: a body that does not start with
// #EXTM3U is Opaque whatever the content-type claims, and a body that does is
// a playlist even when served as text/plain or octet-stream.
func Classify(body []byte) Kind {
	if !LooksLikePlaylist(body) {
		return Opaque
	}
	return tagKind(body)
}

// ClassifyVariant classifies a body fetched as a rendition of a master
// playlist. Some origins omit #EXTM3U on variant playlists, so any non-empty
// text body is treated as a playlist. Only binary or empty bodies are Opaque.
func ClassifyVariant(body []byte) Kind {
	if LooksLikePlaylist(body) {
		return tagKind(body)
	}
	if !isText(body) {
		return Opaque
	}
	return tagKind(body)
}

func tagKind(body []byte) Kind {
	if bytes.Contains(body, []byte(tagStreamInf)) || bytes.Contains(body, []byte(tagMediaAttrs)) {
		return Master
	}
	return Media
}

func isText(body []byte) bool {
	return len(bytes.TrimSpace(body)) > 0 && utf8.Valid(body) && bytes.IndexByte(body, 0) < 0
}
