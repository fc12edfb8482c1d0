package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all linecompute configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Proxy     ProxyConfig      `yaml:"proxy"`
	Cache     CacheConfig      `yaml:"cache"`
	Generator GeneratorConfig  `yaml:"generator"`
	Providers []ProviderConfig `yaml:"providers"`
	Router    RouterConfig     `yaml:"router"`
	Audit     AuditConfig      `yaml:"audit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Log       LogConfig        `yaml:"log"`
}

// ServerConfig controls the compute server listener.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxFrameSize int           `yaml:"max_frame_size"`
}

// ProxyConfig controls the caching proxy.
type ProxyConfig struct {
	Listen          string        `yaml:"listen"`
	Upstream        string        `yaml:"upstream"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// CacheConfig controls the in-memory result cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// GeneratorConfig holds the parameters sent with every gpt-mode request.
type GeneratorConfig struct {
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RouterConfig defines model routing and fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig defines an upstream text-generation provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Type   string `yaml:"type"`
}

// AuditConfig controls the optional SQLite exchange log.
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DBPath          string `yaml:"db_path"`
	RetentionDays   int    `yaml:"retention_days"`
	IncludePayloads bool   `yaml:"include_payloads"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:5555",
		},
		Proxy: ProxyConfig{
			Listen:          "127.0.0.1:5554",
			Upstream:        "127.0.0.1:5555",
			UpstreamTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 128,
		},
		Generator: GeneratorConfig{
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			MaxTokens:   150,
			Timeout:     30 * time.Second,
		},
		Providers: []ProviderConfig{
			{
				Name:   "openai",
				URL:    "https://api.openai.com",
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Type:   "openai",
			},
		},
		Audit: AuditConfig{
			Enabled:       false,
			DBPath:        "linecompute.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate reports configuration that no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is empty"))
	}
	if c.Proxy.Listen == "" {
		errs = append(errs, errors.New("proxy.listen is empty"))
	}
	if c.Proxy.Upstream == "" {
		errs = append(errs, errors.New("proxy.upstream is empty"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	if c.Server.MaxFrameSize < 0 {
		errs = append(errs, fmt.Errorf("server.max_frame_size must not be negative, got %d", c.Server.MaxFrameSize))
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		errs = append(errs, errors.New("audit.db_path is empty"))
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d].name is empty", i))
		}
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("providers[%d].type %q is not openai or anthropic", i, p.Type))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
