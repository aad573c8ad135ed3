// Package config handles TOML configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/hls-proxy/config.toml",
	"configs/config.toml",
}

// DefaultUserAgents is the outbound User-Agent pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// reservedRoutes are paths owned by the proxy router.
var reservedRoutes = []string{"/api/proxy", "/proxy", "/healthz", "/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Debug         bool   `kong:"help='Verbose logging (forces debug level).',env='DEBUG'"`
	CacheTTL      int    `kong:"name='cache-ttl',help='Cache-Control max-age in seconds (overrides config).',env='CACHE_TTL'"`
	MaxRecursion  int    `kong:"help='Maximum master playlist depth (overrides config).',env='MAX_RECURSION'"`
	UserAgents    string `kong:"help='JSON array of outbound User-Agent strings (overrides config).',env='USER_AGENTS'"`
	UpstreamProxy string `kong:"help='Egress proxy URL, socks5:// or http(s):// (overrides config).',env='UPSTREAM_PROXY'"`
}

// Config is the top-level application configuration. It is built once by Load
// and shared read-only afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds playlist handling settings.
type ProxyConfig struct {
	CacheTTLSeconds  int    `toml:"cache_ttl_seconds"`
	MaxRecursion     int    `toml:"max_recursion"`
	MaxManifestBytes int64  `toml:"max_manifest_bytes"`
	PublicBaseURL    string `toml:"public_base_url"`
	RewriteCacheSize int    `toml:"rewrite_cache_size"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	IdleConnections int      `toml:"idle_connections"`
	MaxRedirects    int      `toml:"max_redirects"`
	UserAgents      []string `toml:"user_agents"`
	ProxyURL        string   `toml:"proxy_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Debug  bool   `toml:"debug"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/hls-proxy/config.toml then configs/config.toml, and falls back to
// defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: cli: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Debug {
		c.Log.Debug = true
	}
	if cli.CacheTTL != 0 {
		c.Proxy.CacheTTLSeconds = cli.CacheTTL
	}
	if cli.MaxRecursion != 0 {
		c.Proxy.MaxRecursion = cli.MaxRecursion
	}
	if cli.UpstreamProxy != "" {
		c.Upstream.ProxyURL = cli.UpstreamProxy
	}
	if cli.UserAgents != "" {
		var agents []string
		if err := json.Unmarshal([]byte(cli.UserAgents), &agents); err != nil {
			return fmt.Errorf("user agents must be a JSON array of strings: %w", err)
		}
		c.Upstream.UserAgents = agents
	}
	return nil
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Proxy.CacheTTLSeconds < 0 {
		return fmt.Errorf("proxy.cache_ttl_seconds must be non-negative; got %d", c.Proxy.CacheTTLSeconds)
	}
	if c.Proxy.MaxRecursion < 0 {
		return fmt.Errorf("proxy.max_recursion must be non-negative; got %d", c.Proxy.MaxRecursion)
	}
	if c.Proxy.MaxManifestBytes < 0 {
		return fmt.Errorf("proxy.max_manifest_bytes must be non-negative; got %d", c.Proxy.MaxManifestBytes)
	}
	if c.Proxy.RewriteCacheSize < 0 {
		return fmt.Errorf("proxy.rewrite_cache_size must be non-negative; got %d", c.Proxy.RewriteCacheSize)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}

	// URLs.
	if p := c.Proxy.PublicBaseURL; p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("proxy.public_base_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("proxy.public_base_url must be an absolute http(s) URL; got %q", p)
		}
	}
	if p := c.Upstream.ProxyURL; p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("upstream.proxy_url is not a valid URL: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks5h", "http", "https":
			// valid
		default:
			return fmt.Errorf("upstream.proxy_url scheme must be socks5, http or https; got %q", u.Scheme)
		}
	}

	for i, ua := range c.Upstream.UserAgents {
		if strings.TrimSpace(ua) == "" {
			return fmt.Errorf("upstream.user_agents[%d] is empty", i)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, MaxRecursion, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting
// max_recursion=0 in the config file therefore results in the default (5).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024
	}
	if c.Proxy.CacheTTLSeconds == 0 {
		c.Proxy.CacheTTLSeconds = 86400
	}
	if c.Proxy.MaxRecursion == 0 {
		c.Proxy.MaxRecursion = 5
	}
	if c.Proxy.MaxManifestBytes == 0 {
		c.Proxy.MaxManifestBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.RewriteCacheSize == 0 {
		c.Proxy.RewriteCacheSize = 4096
	}
	c.Proxy.PublicBaseURL = strings.TrimRight(c.Proxy.PublicBaseURL, "/")
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 15
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 10
	}
	if len(c.Upstream.UserAgents) == 0 {
		c.Upstream.UserAgents = append([]string(nil), DefaultUserAgents...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Debug {
		c.Log.Level = "debug"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
