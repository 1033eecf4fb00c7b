package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
)

// Config holds the fedsearch configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Primary    PrimaryConfig    `yaml:"primary"`
	Peers      []PeerConfig     `yaml:"peers"`
	Federation FederationConfig `yaml:"federation"`
	Client     ClientConfig     `yaml:"client"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	BasePath        string `yaml:"base_path"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// PrimaryConfig points at the FHIR server whose results are always returned.
type PrimaryConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"` // bounds the local search fetched from the primary
}

// PeerConfig is one federated FHIR server.
type PeerConfig struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Priority int    `yaml:"priority"`
}

// FederationConfig holds fan-out settings.
type FederationConfig struct {
	ResourceTypes     []string `yaml:"resource_types"` // "*" federates every type
	PeerTimeoutMs     int      `yaml:"peer_timeout_ms"`
	DeadlineMs        int      `yaml:"deadline_ms"` // default: peer_timeout_ms
	SingleValueParams bool     `yaml:"single_value_params"`
	InstanceReads     bool     `yaml:"instance_reads"`
	TagSource         bool     `yaml:"tag_source"`
}

// ClientConfig holds outbound HTTP client settings.
type ClientConfig struct {
	UserAgent           string `yaml:"user_agent"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`
	MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"`
}

// RateLimitConfig holds inbound rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = disabled
	Burst             int     `yaml:"burst"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAgeSec      int      `yaml:"max_age_sec"`
}

// Timeout returns the primary fetch timeout.
func (p PrimaryConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// PeerTimeout returns the per-peer timeout.
func (f FederationConfig) PeerTimeout() time.Duration {
	return time.Duration(f.PeerTimeoutMs) * time.Millisecond
}

// Deadline returns the overall fan-out deadline.
func (f FederationConfig) Deadline() time.Duration {
	return time.Duration(f.DeadlineMs) * time.Millisecond
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML file.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, expanding ${VAR} references, then applies
// defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.BasePath == "" {
		c.HTTP.BasePath = "/fhir"
	}
	if c.HTTP.BasePath != "/" {
		c.HTTP.BasePath = "/" + strings.Trim(c.HTTP.BasePath, "/")
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Primary.TimeoutMs <= 0 {
		c.Primary.TimeoutMs = min(15000, c.HTTP.WriteTimeoutSec*1000*3/4)
	}
	if len(c.Federation.ResourceTypes) == 0 {
		c.Federation.ResourceTypes = []string{"Patient"}
	}
	if c.Federation.PeerTimeoutMs <= 0 {
		c.Federation.PeerTimeoutMs = 5000
	}
	if c.Federation.DeadlineMs <= 0 {
		c.Federation.DeadlineMs = c.Federation.PeerTimeoutMs
	}
	if c.Client.UserAgent == "" {
		c.Client.UserAgent = "fedsearch"
	}
	if c.Client.MaxBodyBytes <= 0 {
		c.Client.MaxBodyBytes = 10 << 20
	}
	if c.Client.MaxIdleConnsPerHost <= 0 {
		c.Client.MaxIdleConnsPerHost = 16
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = max(1, int(c.RateLimit.RequestsPerSecond))
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.CORS.MaxAgeSec <= 0 {
		c.CORS.MaxAgeSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.HTTP.BasePath, "/") || c.HTTP.BasePath == "/" {
		return fmt.Errorf("http.base_path must be a non-root absolute path, got %q", c.HTTP.BasePath)
	}
	if c.Primary.BaseURL == "" {
		return fmt.Errorf("primary.base_url is required")
	}
	if u, err := url.Parse(c.Primary.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("primary.base_url must be an absolute http(s) url, got %q", c.Primary.BaseURL)
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("peers: %w", err)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative, got %v", c.RateLimit.RequestsPerSecond)
	}
	if c.Primary.TimeoutMs < 0 || c.Primary.TimeoutMs >= c.HTTP.WriteTimeoutSec*1000 {
		return fmt.Errorf("primary.timeout_ms must be below http.write_timeout_sec, got %dms", c.Primary.TimeoutMs)
	}
	if c.Federation.DeadlineMs < 0 {
		return fmt.Errorf("federation.deadline_ms must not be negative, got %d", c.Federation.DeadlineMs)
	}
	return nil
}

// Registry builds the peer registry from the peers section.
func (c *Config) Registry() (*peer.Registry, error) {
	endpoints := make([]peer.Endpoint, 0, len(c.Peers))
	for i, p := range c.Peers {
		ep, err := peer.New(p.Name, p.BaseURL, p.Priority)
		if err != nil {
			return nil, fmt.Errorf("peers[%d]: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}
	return peer.NewRegistry(endpoints...)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
