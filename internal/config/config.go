// Package config handles TOML and environment configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/journal-gateway/config.toml",
	"configs/config.toml",
}

// DefaultServices are the logical backends every deployment knows about.
var DefaultServices = []string{
	"auth",
	"users",
	"articles",
	"reviews",
	"editorial",
	"layout",
	"publication",
	"notifications",
	"analytics",
	"fileprocessing",
	"volumes",
}

// defaultAliases maps retired or merged services onto the backend that now hosts them.
var defaultAliases = map[string]string{
	"volumes": "articles",
}

// ReservedPaths are served by the gateway itself and cannot be used as route prefixes.
var ReservedPaths = []string{"/healthz", "/readyz", "/gateway/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIPrefix      string `kong:"name='api-prefix',help='Path prefix all routes are mounted under (overrides config).',env='API_PREFIX'"`
	SecretKey      string `kong:"help='HS256 key used to verify bearer tokens (overrides config).',env='SECRET_KEY'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	TimeoutSeconds int    `kong:"name='upstream-timeout',help='Upstream request timeout in seconds (overrides config).',env='UPSTREAM_TIMEOUT_SECONDS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig             `toml:"server"`
	Gateway  GatewayConfig            `toml:"gateway"`
	Services map[string]ServiceConfig `toml:"services"`
	Upstream UpstreamConfig           `toml:"upstream"`
	Auth     AuthConfig               `toml:"auth"`
	Log      LogConfig                `toml:"log"`
	Metrics  MetricsConfig            `toml:"metrics"`
	Tracing  TracingConfig            `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `toml:"host"`
	Port           int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes   int64           `toml:"body_max_bytes"`
	AllowedOrigins []string        `toml:"allowed_origins"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// GatewayConfig holds the global mount point of the route table.
type GatewayConfig struct {
	Prefix string `toml:"prefix"`
}

// ServiceConfig describes one logical backend. A service with Alias set
// shares the base URL of the named service.
type ServiceConfig struct {
	URL    string `toml:"url"`
	Prefix string `toml:"prefix"`
	Alias  string `toml:"alias"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds   int                  `toml:"timeout_seconds"`
	IdleConnections  int                  `toml:"idle_connections"`
	MaxRedirects     int                  `toml:"max_redirects"`
	MaxResponseBytes int64                `toml:"max_response_bytes"`
	CircuitBreaker   CircuitBreakerConfig `toml:"circuit_breaker"`
}

// CircuitBreakerConfig controls the per-backend breaker.
type CircuitBreakerConfig struct {
	Enabled             bool `toml:"enabled"`
	ConsecutiveFailures int  `toml:"consecutive_failures"`
	OpenSeconds         int  `toml:"open_seconds"`
}

// AuthConfig holds bearer token verification settings. An empty SecretKey
// disables identity extraction entirely.
type AuthConfig struct {
	SecretKey string `toml:"secret_key"`
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

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `toml:"enabled"`
	Endpoint     string  `toml:"endpoint"`
	SamplingRate float64 `toml:"sampling_rate"`
	ServiceName  string  `toml:"service_name"`
}

// Load reads the optional TOML config file, then applies environment and CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/journal-gateway/config.toml then configs/config.toml. Finding no file
// is not an error: the gateway is fully configurable from the environment.
func Load(cli *CLI) (*Config, error) {
	return load(cli, os.LookupEnv)
}

func load(cli *CLI, lookupEnv func(string) (string, bool)) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	// Seeded before decoding so an explicit sampling_rate = 0 survives.
	cfg := Config{Tracing: TracingConfig{SamplingRate: 1}}
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

	cfg.addDefaultServices()
	cfg.applyEnv(lookupEnv)
	cfg.applyCLI(cli)
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// addDefaultServices fills in every known service the file did not mention.
func (c *Config) addDefaultServices() {
	if c.Services == nil {
		c.Services = make(map[string]ServiceConfig, len(DefaultServices))
	}
	for _, name := range DefaultServices {
		svc := c.Services[name]
		if svc.URL == "" && svc.Alias == "" {
			if target, ok := defaultAliases[name]; ok {
				svc.Alias = target
			} else {
				svc.URL = "http://" + name + ":8000"
			}
		}
		if svc.Prefix == "" {
			svc.Prefix = "/" + name
		}
		c.Services[name] = svc
	}
	for name, svc := range c.Services {
		if svc.Prefix == "" {
			svc.Prefix = "/" + name
			c.Services[name] = svc
		}
	}
}

// applyEnv overrides service URLs from <NAME>_SERVICE_URL variables. An
// explicit URL replaces an alias.
func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	for name, svc := range c.Services {
		if v, ok := lookupEnv(EnvKey(name)); ok && v != "" {
			svc.URL = v
			svc.Alias = ""
			c.Services[name] = svc
		}
	}
}

// EnvKey returns the environment variable that carries a service base URL.
func EnvKey(service string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(service))
	return key + "_SERVICE_URL"
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIPrefix != "" {
		c.Gateway.Prefix = cli.APIPrefix
	}
	if cli.SecretKey != "" {
		c.Auth.SecretKey = cli.SecretKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.TimeoutSeconds != 0 {
		c.Upstream.TimeoutSeconds = cli.TimeoutSeconds
	}
}

// normalize trims trailing slashes so joining a base URL with a path never doubles them.
// A service prefix of "/" becomes empty here and validate rejects it.
func (c *Config) normalize() {
	c.Gateway.Prefix = strings.TrimRight(strings.TrimSpace(c.Gateway.Prefix), "/")
	for name, svc := range c.Services {
		svc.URL = strings.TrimRight(strings.TrimSpace(svc.URL), "/")
		svc.Prefix = strings.TrimRight(strings.TrimSpace(svc.Prefix), "/")
		c.Services[name] = svc
	}
}

func (c *Config) validate() error {
	if c.Gateway.Prefix != "" && c.Gateway.Prefix[0] != '/' {
		return fmt.Errorf("gateway.prefix must start with '/'; got %q", c.Gateway.Prefix)
	}

	if err := c.validateServices(); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
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
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if cb := c.Upstream.CircuitBreaker; cb.ConsecutiveFailures < 0 || cb.OpenSeconds < 0 {
		return fmt.Errorf("upstream.circuit_breaker values must be non-negative")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0, 1]; got %v", c.Tracing.SamplingRate)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
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
		for _, reserved := range c.reservedPrefixes() {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func (c *Config) validateServices() error {
	prefixes := make(map[string]string, len(c.Services))
	for _, name := range c.ServiceNames() {
		svc := c.Services[name]

		if svc.Prefix == "" || svc.Prefix[0] != '/' {
			return fmt.Errorf("services.%s.prefix must start with '/'; got %q", name, svc.Prefix)
		}
		if other, dup := prefixes[svc.Prefix]; dup {
			return fmt.Errorf("services.%s.prefix %q is already used by services.%s", name, svc.Prefix, other)
		}
		prefixes[svc.Prefix] = name
		if c.Gateway.Prefix == "" {
			for _, reserved := range ReservedPaths {
				if svc.Prefix == reserved || strings.HasPrefix(reserved, svc.Prefix+"/") {
					return fmt.Errorf("services.%s.prefix %q conflicts with reserved route %q", name, svc.Prefix, reserved)
				}
			}
		}

		if svc.Alias != "" {
			target, ok := c.Services[svc.Alias]
			if !ok {
				return fmt.Errorf("services.%s.alias references unknown service %q", name, svc.Alias)
			}
			if target.Alias != "" {
				return fmt.Errorf("services.%s.alias %q is itself an alias", name, svc.Alias)
			}
			continue
		}

		if svc.URL == "" {
			return fmt.Errorf("services.%s.url is required (or set %s)", name, EnvKey(name))
		}
		// An unparsable URL is tolerated here; the proxy omits the Host
		// override for it instead of refusing to start.
		if u, err := url.Parse(svc.URL); err == nil && u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("services.%s.url must be an absolute http(s) URL; got %q", name, svc.URL)
		}
	}
	return nil
}

func (c *Config) reservedPrefixes() []string {
	reserved := append([]string{}, ReservedPaths...)
	for _, name := range c.ServiceNames() {
		reserved = append(reserved, c.Gateway.Prefix+c.Services[name].Prefix)
	}
	return reserved
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 50 * 1024 * 1024 // 50 MB, manuscripts and layout PDFs
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 5
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 64 * 1024 * 1024
	}
	if c.Upstream.CircuitBreaker.ConsecutiveFailures == 0 {
		c.Upstream.CircuitBreaker.ConsecutiveFailures = 5
	}
	if c.Upstream.CircuitBreaker.OpenSeconds == 0 {
		c.Upstream.CircuitBreaker.OpenSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "journal-gateway"
	}
}

// ServiceNames returns the configured logical service names in sorted order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaseURL returns the base URL a service resolves to, following its alias.
func (c *Config) BaseURL(name string) string {
	svc := c.Services[name]
	if svc.Alias != "" {
		return c.Services[svc.Alias].URL
	}
	return svc.URL
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
// The file may carry auth.secret_key.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("cannot stat config file", "path", c.filePath, "err", err)
		}
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
