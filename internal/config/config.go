package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultBackendURL is used when no backend address is configured.
const DefaultBackendURL = "http://localhost:10000"

// Config holds the full application configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Client  ClientConfig  `yaml:"client" mapstructure:"client"`
	Poll    PollConfig    `yaml:"poll" mapstructure:"poll"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// BackendConfig points at the external scoring backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GatewayConfig configures the request proxy.
type GatewayConfig struct {
	IngestTimeoutSecs int      `yaml:"ingest_timeout_secs" mapstructure:"ingest_timeout_secs"`
	StatusTimeoutSecs int      `yaml:"status_timeout_secs" mapstructure:"status_timeout_secs"`
	IngestRatePerMin  int      `yaml:"ingest_rate_per_min" mapstructure:"ingest_rate_per_min"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// IngestTimeout returns the outbound ingest deadline.
func (g GatewayConfig) IngestTimeout() time.Duration {
	return secs(g.IngestTimeoutSecs, 90)
}

// StatusTimeout returns the outbound deadline for status and product lookups.
func (g GatewayConfig) StatusTimeout() time.Duration {
	return secs(g.StatusTimeoutSecs, 30)
}

// ServerConfig configures the gateway listener.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ClientConfig configures the transport client used by the CLI.
type ClientConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Retries          int    `yaml:"retries" mapstructure:"retries"`
	FirstTimeoutSecs int    `yaml:"first_timeout_secs" mapstructure:"first_timeout_secs"`
	RetryTimeoutSecs int    `yaml:"retry_timeout_secs" mapstructure:"retry_timeout_secs"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// FirstTimeout is the deadline of the first attempt.
func (c ClientConfig) FirstTimeout() time.Duration {
	return secs(c.FirstTimeoutSecs, 30)
}

// RetryTimeout is the deadline of every retry attempt.
func (c ClientConfig) RetryTimeout() time.Duration {
	return secs(c.RetryTimeoutSecs, 10)
}

// RetryBackoff is the pause between attempts.
func (c ClientConfig) RetryBackoff() time.Duration {
	return millis(c.RetryBackoffMs, 2000)
}

// PollConfig configures job status polling.
type PollConfig struct {
	InitialDelayMs     int `yaml:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	IntervalMs         int `yaml:"interval_ms" mapstructure:"interval_ms"`
	GraceMs            int `yaml:"grace_ms" mapstructure:"grace_ms"`
	MaxNotFoundRetries int `yaml:"max_not_found_retries" mapstructure:"max_not_found_retries"`
}

// InitialDelay is the pause before the first poll.
func (p PollConfig) InitialDelay() time.Duration {
	return millis(p.InitialDelayMs, 1000)
}

// Interval is the pause between the end of one poll and the start of the next.
func (p PollConfig) Interval() time.Duration {
	return millis(p.IntervalMs, 3000)
}

// Grace is the pause between a completed status and resolution.
func (p PollConfig) Grace() time.Duration {
	return millis(p.GraceMs, 1500)
}

// MaxNotFound is how many consecutive not-found answers are tolerated
// before a job is abandoned.
func (p PollConfig) MaxNotFound() int {
	if p.MaxNotFoundRetries <= 0 {
		return 3
	}
	return p.MaxNotFoundRetries
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func secs(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func millis(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

// NormalizeBaseURL trims whitespace and a trailing slash and defaults the
// scheme to http://. An empty address resolves to DefaultBackendURL.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = DefaultBackendURL
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SATYANETRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("backend.base_url", "")
	v.SetDefault("gateway.ingest_timeout_secs", 90)
	v.SetDefault("gateway.status_timeout_secs", 30)
	v.SetDefault("gateway.ingest_rate_per_min", 30)
	v.SetDefault("gateway.allowed_origins", []string{"*"})
	v.SetDefault("server.port", 3000)
	v.SetDefault("client.base_url", "http://localhost:3000")
	v.SetDefault("client.retries", 2)
	v.SetDefault("client.first_timeout_secs", 30)
	v.SetDefault("client.retry_timeout_secs", 10)
	v.SetDefault("client.retry_backoff_ms", 2000)
	v.SetDefault("poll.initial_delay_ms", 1000)
	v.SetDefault("poll.interval_ms", 3000)
	v.SetDefault("poll.grace_ms", 1500)
	v.SetDefault("poll.max_not_found_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// The dashboard deployments configured the backend through these.
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = firstEnv("NEXT_PUBLIC_API_BASE", "BACKEND_URL")
	}
	cfg.Backend.BaseURL = NormalizeBaseURL(cfg.Backend.BaseURL)

	return &cfg, nil
}

// Validate checks the settings required by the given mode ("serve" or "client").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Gateway.IngestRatePerMin < 0 {
			errs = append(errs, "gateway.ingest_rate_per_min must be >= 0")
		}
		if _, err := url.Parse(c.Backend.BaseURL); err != nil {
			errs = append(errs, "backend.base_url is not a valid URL")
		}
	case "client":
		if c.Client.BaseURL == "" {
			errs = append(errs, "client.base_url is required")
		}
		if c.Client.Retries < 0 {
			errs = append(errs, "client.retries must be >= 0")
		}
		if c.Poll.MaxNotFoundRetries < 0 {
			errs = append(errs, "poll.max_not_found_retries must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
