package playlist

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// absoluteURLPattern matches references that are already absolute http(s) URLs.
var absoluteURLPattern = regexp.MustCompile(`(?i)^https?://`)

// IsAbsoluteHTTP reports whether s is an absolute http or https URL.
func IsAbsoluteHTTP(s string) bool {
	return absoluteURLPattern.MatchString(s)
}

// BaseURL returns the directory URL of a manifest: origin plus every path
// segment except the last, with a trailing slash. Query and fragment are dropped.
//
//	https://cdn.example.com/show/index.m3u8?t=1 -> https://cdn.example.com/show/
//	https://cdn.example.com/index.m3u8         -> https://cdn.example.com/
func BaseURL(manifestURL string) (string, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("parse manifest url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("manifest url %q is not absolute", manifestURL)
	}

	origin := u.Scheme + "://" + u.Host
	p := u.EscapedPath()
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return origin + "/", nil
	}
	return origin + p[:idx+1], nil
}

// resolveReference resolves ref against base using standard relative-URL rules.
func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
