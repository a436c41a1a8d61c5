// Package config loads gateway settings from defaults, a YAML file, .env and
// GATEWAY_* environment variables. CLI flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "GATEWAY_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Primary  PrimaryConfig  `yaml:"primary"`
	Azure    AzureConfig    `yaml:"azure"`
	Gate     GateConfig     `yaml:"gate"`
	IPLimit  IPLimitConfig  `yaml:"ip_limit"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// PrimaryConfig 主后端 (OpenAI 兼容)
type PrimaryConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKeys    []string      `yaml:"api_keys"`
	Timeout    time.Duration `yaml:"timeout"`
	ModelsPath string        `yaml:"models_path"`
	// Cooldown applies to a key after a 429 without Retry-After.
	Cooldown time.Duration `yaml:"cooldown"`
}

// AzureConfig 可选的 Azure OpenAI 后端
type AzureConfig struct {
	ConfigPath            string `yaml:"config_path"`
	Endpoint              string `yaml:"endpoint"`
	APIKey                string `yaml:"api_key"`
	SecretKey             string `yaml:"secret_key"`
	APIVersion            string `yaml:"api_version"`
	DeploymentsAPIVersion string `yaml:"deployments_api_version"`
}

type GateConfig struct {
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`
	RateLimitWait     bool          `yaml:"rate_limit_wait"`
	ManualApprove     bool          `yaml:"manual_approve"`
}

type IPLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type StreamConfig struct {
	// KeepAliveInterval of 0 disables timer pings.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	// Path empty disables the request log.
	Path     string `yaml:"path"`
	KeepRows int    `yaml:"keep_rows"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":4141",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodyBytes:      32 << 20,
		},
		Primary: PrimaryConfig{
			BaseURL:    "https://api.openai.com/v1",
			Timeout:    300 * time.Second,
			ModelsPath: "/models",
			Cooldown:   60 * time.Second,
		},
		Azure: AzureConfig{
			APIVersion:            "2024-10-21",
			DeploymentsAPIVersion: "2022-12-01",
		},
		IPLimit: IPLimitConfig{RPS: 10, Burst: 20},
		Stream:  StreamConfig{KeepAliveInterval: 15 * time.Second},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Database: DatabaseConfig{Path: "gateway.db", KeepRows: 100000},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load 依次应用默认值、YAML 文件、.env 和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GATEWAY_* variables resolved through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LISTEN", &c.Server.Listen)
	str("PRIMARY_BASE_URL", &c.Primary.BaseURL)
	if v, ok := lookup(EnvPrefix + "PRIMARY_API_KEYS"); ok {
		c.Primary.APIKeys = SplitList(v)
	}
	dur("PRIMARY_TIMEOUT", &c.Primary.Timeout)
	str("AZURE_CONFIG_PATH", &c.Azure.ConfigPath)
	str("AZURE_ENDPOINT", &c.Azure.Endpoint)
	str("AZURE_API_KEY", &c.Azure.APIKey)
	str("AZURE_SECRET_KEY", &c.Azure.SecretKey)
	dur("RATE_LIMIT_INTERVAL", &c.Gate.RateLimitInterval)
	boolean("RATE_LIMIT_WAIT", &c.Gate.RateLimitWait)
	boolean("MANUAL_APPROVE", &c.Gate.ManualApprove)
	dur("KEEPALIVE_INTERVAL", &c.Stream.KeepAliveInterval)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_FILE", &c.Logging.File)
	str("DB_PATH", &c.Database.Path)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	return errors.Join(errs...)
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Primary.BaseURL) == "" {
		errs = append(errs, errors.New("primary.base_url is required"))
	}

	durations := map[string]time.Duration{
		"server.read_header_timeout": c.Server.ReadHeaderTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"primary.timeout":            c.Primary.Timeout,
		"primary.cooldown":           c.Primary.Cooldown,
		"gate.rate_limit_interval":   c.Gate.RateLimitInterval,
		"stream.keepalive_interval":  c.Stream.KeepAliveInterval,
	}
	for name, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if c.Gate.RateLimitWait && c.Gate.RateLimitInterval == 0 {
		errs = append(errs, errors.New("gate.rate_limit_wait requires gate.rate_limit_interval"))
	}

	if k := len(c.Azure.SecretKey); k != 0 && k != 16 && k != 24 && k != 32 {
		errs = append(errs, fmt.Errorf("azure.secret_key must be 16, 24 or 32 bytes, got %d", k))
	}

	if c.IPLimit.Enabled && (c.IPLimit.RPS <= 0 || c.IPLimit.Burst <= 0) {
		errs = append(errs, errors.New("ip_limit.rps and ip_limit.burst must be positive"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
