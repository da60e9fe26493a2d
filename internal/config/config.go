// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/bridge-proxy/config.toml",
	"configs/config.toml",
}

// Defaults matching the trezord bridge setup inside the emulator container.
const (
	DefaultUpstreamHost  = "0.0.0.0:21325"
	DefaultOrigin        = "https://user-env.trezor.io"
	DefaultProxyPort     = 21326
	DefaultDashboardPort = 9002
	DefaultDashboardDir  = "html"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Proxy listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Proxy listen port (overrides config).',env='PORT'"`
	UpstreamHost  string `kong:"help='Bridge host:port to forward to (overrides config).',env='UPSTREAM_HOST'"`
	Origin        string `kong:"help='Trusted Origin sent upstream on POST (overrides config).',env='TRUSTED_ORIGIN'"`
	DashboardPort int    `kong:"help='Dashboard listen port (overrides config).',env='DASHBOARD_PORT'"`
	DashboardDir  string `kong:"help='Directory served by the dashboard (overrides config).',env='DASHBOARD_DIR'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds proxy listener settings.
type ServerConfig struct {
	Host          string          `toml:"host"`
	Port          int             `toml:"port"` // 0 means "use default" (21326)
	BodyMaxBytes  int64           `toml:"body_max_bytes"`
	ProxyProtocol bool            `toml:"proxy_protocol"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig describes the bridge daemon the proxy forwards to.
type UpstreamConfig struct {
	// Host is the host:port authority of the bridge. It is also the value
	// of the Host header sent on forwarded POST requests.
	Host string `toml:"host"`
	// Origin replaces the caller's Origin header on forwarded POST requests.
	Origin string `toml:"origin"`
	// TimeoutSeconds bounds each upstream call; 0 disables the timeout.
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// DashboardConfig holds the static dashboard server settings.
type DashboardConfig struct {
	Enabled *bool  `toml:"enabled"` // nil means enabled
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Dir     string `toml:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/bridge-proxy/config.toml then configs/config.toml. Finding no file is
// fine: the defaults describe the usual emulator setup.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file or flags are given.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamHost != "" {
		c.Upstream.Host = cli.UpstreamHost
	}
	if cli.Origin != "" {
		c.Upstream.Origin = cli.Origin
	}
	if cli.DashboardPort != 0 {
		c.Dashboard.Port = cli.DashboardPort
	}
	if cli.DashboardDir != "" {
		c.Dashboard.Dir = cli.DashboardDir
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream authority: host:port only, no scheme or path.
	if c.Upstream.Host != "" {
		if strings.Contains(c.Upstream.Host, "/") {
			return fmt.Errorf("upstream.host must be host:port without scheme or path; got %q", c.Upstream.Host)
		}
		if _, _, err := net.SplitHostPort(c.Upstream.Host); err != nil {
			return fmt.Errorf("upstream.host is not a valid host:port: %w", err)
		}
	}
	if c.Upstream.Origin != "" {
		u, err := url.Parse(c.Upstream.Origin)
		if err != nil {
			return fmt.Errorf("upstream.origin is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.origin must be an http or https origin; got %q", c.Upstream.Origin)
		}
		if u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("upstream.origin must be scheme://host[:port]; got %q", c.Upstream.Origin)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be 0–65535; got %d", c.Dashboard.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics live on the dashboard listener next to the health routes.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// Integer fields treat zero as "unset" because TOML cannot distinguish an
// explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultProxyPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.Host == "" {
		c.Upstream.Host = DefaultUpstreamHost
	}
	if c.Upstream.Origin == "" {
		c.Upstream.Origin = DefaultOrigin
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 16
	}
	if c.Dashboard.Enabled == nil {
		enabled := true
		c.Dashboard.Enabled = &enabled
	}
	if c.Dashboard.Host == "" {
		c.Dashboard.Host = "0.0.0.0"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = DefaultDashboardPort
	}
	if c.Dashboard.Dir == "" {
		c.Dashboard.Dir = DefaultDashboardDir
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
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

// Addr returns the proxy listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Addr returns the dashboard listen address as host:port.
func (c *DashboardConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// IsEnabled reports whether the dashboard listener should run.
func (c *DashboardConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// BaseURL returns the plain-HTTP URL of the bridge.
func (c *UpstreamConfig) BaseURL() string {
	return "http://" + c.Host
}

// FilePath returns the config file that was loaded, or empty when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
}
