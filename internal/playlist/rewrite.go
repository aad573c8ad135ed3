package playlist

import (
	"log/slog"
	"regexp"
	"strings"
)

// ContentType is served for every rewritten playlist.
const ContentType = "application/vnd.apple.mpegurl;charset=utf-8"

// uriAttrPattern matches a URI="..." attribute at the start of a tag's
// attribute list or after a comma. Group 1 is the quoted value.
var uriAttrPattern = regexp.MustCompile(`[:,]URI="([^"]*)"`)

// Rewriter turns playlist references into proxy URLs. One Rewriter serves one
// proxy request; it owns that request's RewriteCache and is not safe for
// concurrent use.
type Rewriter struct {
	publicBase string
	cache      *RewriteCache
	logger     *slog.Logger
	failures   int
}

// NewRewriter returns a Rewriter emitting proxy URLs under publicBase.
func NewRewriter(publicBase string, cache *RewriteCache, logger *slog.Logger) *Rewriter {
	if cache == nil {
		cache = NewRewriteCache(DefaultCacheSize)
	}
	return &Rewriter{
		publicBase: publicBase,
		cache:      cache,
		logger:     logger,
	}
}

// Failures returns how many references could not be resolved so far.
func (r *Rewriter) Failures() int {
	return r.failures
}

// ResolveURL resolves ref against base. Absolute http(s) references are
// returned unchanged. A reference that cannot be resolved is logged and
// returned as-is; one broken line must not fail the whole playlist.
func (r *Rewriter) ResolveURL(base, ref string) string {
	if IsAbsoluteHTTP(ref) {
		return ref
	}
	if resolved, ok := r.cache.get(base, ref); ok {
		return resolved
	}

	resolved, err := resolveReference(base, ref)
	if err != nil {
		r.failures++
		r.logger.Warn("url resolution failed",
			"base", base,
			"ref", ref,
			"err", err,
		)
		return ref
	}

	r.cache.add(base, ref, resolved)
	return resolved
}

// RewriteMedia rewrites a media playlist fetched from manifestURL line by line:
// segment lines become proxy URLs, URI attributes inside tags are replaced in
// place, everything else passes through. The line count never changes.
func (r *Rewriter) RewriteMedia(manifestURL, content string) string {
	base, err := BaseURL(manifestURL)
	if err != nil {
		r.logger.Warn("manifest has no usable base url", "url", manifestURL, "err", err)
		base = manifestURL
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			lines[i] = r.rewriteURIAttributes(base, line)
		default:
			rewritten := r.proxyReference(base, trimmed)
			if strings.HasSuffix(line, "\r") {
				rewritten += "\r"
			}
			lines[i] = rewritten
		}
	}
	return strings.Join(lines, "\n")
}

// rewriteURIAttributes replaces every URI="..." value in a tag line with its proxy form.
func (r *Rewriter) rewriteURIAttributes(base, line string) string {
	matches := uriAttrPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var b strings.Builder
	b.Grow(len(line) + 64)
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		value := line[start:end]
		if value == "" {
			continue
		}
		b.WriteString(line[last:start])
		b.WriteString(r.proxyReference(base, value))
		last = end
	}
	b.WriteString(line[last:])
	return b.String()
}

// proxyReference resolves ref and wraps it in a proxy URL. References that do
// not resolve to http(s) (skd://, data:, failures) are returned untouched.
func (r *Rewriter) proxyReference(base, ref string) string {
	abs := r.ResolveURL(base, ref)
	if !IsAbsoluteHTTP(abs) {
		return ref
	}
	return ProxyURL(r.publicBase, abs)
}
