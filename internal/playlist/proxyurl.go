package playlist

import (
	"fmt"
	"net/url"
	"strings"
)

// ProxyPath is the canonical proxy route; the target travels in the "url" query parameter.
const ProxyPath = "/api/proxy"

// ProxyURL returns the proxy form of an absolute target URL. publicBase is the
// externally visible origin of the proxy ("" yields a root-relative URL).
func ProxyURL(publicBase, target string) string {
	return strings.TrimRight(publicBase, "/") + ProxyPath + "?url=" + url.QueryEscape(target)
}

// TargetFromProxyURL extracts the embedded target from a URL produced by ProxyURL.
func TargetFromProxyURL(proxyURL string) (string, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("parse proxy url: %w", err)
	}
	if !strings.HasSuffix(u.Path, ProxyPath) {
		return "", fmt.Errorf("not a proxy url: path %q", u.Path)
	}
	target := u.Query().Get("url")
	if target == "" {
		return "", fmt.Errorf("proxy url has no target")
	}
	return target, nil
}
