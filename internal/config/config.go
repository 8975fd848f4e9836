package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "EDGECHECK_CONFIG"
	DefaultConfigPath = "/etc/edgecheck/edgecheck.yaml"
)

type Config struct {
	Diagnostic DiagnosticConfig `yaml:"diagnostic"`
	Endpoints  EndpointsConfig  `yaml:"endpoints"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

type DiagnosticConfig struct {
	SampleCount int           `yaml:"sample_count"`
	Interval    time.Duration `yaml:"interval"`
	// RequestTimeout bounds every upstream request. Zero means no deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

type EndpointsConfig struct {
	StatusPath   string `yaml:"status_path"`
	TracePath    string `yaml:"trace_path"`
	LocationsURL string `yaml:"locations_url"`
	MetaURL      string `yaml:"meta_url"`
}

// CatalogConfig switches the locations catalog to a local snapshot when File is set.
// PublicKey is a minisign key (file content, bare key or path); when set, the
// snapshot must carry a valid signature.
type CatalogConfig struct {
	File          string `yaml:"file"`
	SignatureFile string `yaml:"signature_file"`
	PublicKey     string `yaml:"public_key"`
}

type GeoIPConfig struct {
	ASNDatabase  string        `yaml:"asn_database"`
	CityDatabase string        `yaml:"city_database"`
	STUNServers  []string      `yaml:"stun_servers"`
	STUNTimeout  time.Duration `yaml:"stun_timeout"`
}

type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	if c.Diagnostic.SampleCount <= 0 {
		c.Diagnostic.SampleCount = 8
	}
	if c.Diagnostic.Interval < 0 {
		c.Diagnostic.Interval = 0
	}
	if c.Diagnostic.RequestTimeout < 0 {
		c.Diagnostic.RequestTimeout = 0
	}
	if strings.TrimSpace(c.Diagnostic.UserAgent) == "" {
		c.Diagnostic.UserAgent = "edgecheck/0.1.0"
	}

	if c.Endpoints.StatusPath == "" {
		c.Endpoints.StatusPath = "/emby/system/info/public"
	}
	if c.Endpoints.TracePath == "" {
		c.Endpoints.TracePath = "/cdn-cgi/trace"
	}
	if c.Endpoints.LocationsURL == "" {
		c.Endpoints.LocationsURL = "https://speed.cloudflare.com/locations"
	}
	if c.Endpoints.MetaURL == "" {
		c.Endpoints.MetaURL = "https://speed.cloudflare.com/meta"
	}

	if len(c.GeoIP.STUNServers) == 0 {
		c.GeoIP.STUNServers = []string{"stun.cloudflare.com:3478"}
	}
	if c.GeoIP.STUNTimeout <= 0 {
		c.GeoIP.STUNTimeout = 3 * time.Second
	}

	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		c.Server.MaxConcurrentRuns = 4
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = 30 * time.Minute
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Endpoints.StatusPath, "/") {
		errs = append(errs, fmt.Errorf("endpoints.status_path %q must start with /", c.Endpoints.StatusPath))
	}
	if !strings.HasPrefix(c.Endpoints.TracePath, "/") {
		errs = append(errs, fmt.Errorf("endpoints.trace_path %q must start with /", c.Endpoints.TracePath))
	}
	if c.Catalog.File == "" && (c.Catalog.SignatureFile != "" || c.Catalog.PublicKey != "") {
		errs = append(errs, errors.New("catalog.signature_file and catalog.public_key require catalog.file"))
	}
	if c.Catalog.SignatureFile != "" && c.Catalog.PublicKey == "" {
		errs = append(errs, errors.New("catalog.signature_file requires catalog.public_key"))
	}
	return errors.Join(errs...)
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by EDGECHECK_CONFIG. Without the variable,
// the default path is used when it exists and built-in defaults otherwise.
func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err != nil {
			return Default(), nil
		}
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Resolve loads path when given and falls back to LoadFromEnv otherwise.
func Resolve(ctx context.Context, path string) (Config, error) {
	if strings.TrimSpace(path) != "" {
		return Load(ctx, path)
	}
	return LoadFromEnv(ctx)
}
