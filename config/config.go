// Package config loads the gateway configuration file and assembles a
// ready-to-use gateway from it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/i2y/llmgateway/gateway"
	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
)

// EnvConfig names the variable that overrides the config file path.
const EnvConfig = "LLMGW_CONFIG"

// Config is the gateway configuration file.
type Config struct {
	// Catalog is a provider catalog file. The built-in catalog is used
	// when empty. Relative paths are resolved against the config file.
	Catalog string `yaml:"catalog"`

	// DefaultModel overrides the built-in default model.
	DefaultModel string `yaml:"default_model"`
	// Features maps a feature to its configured default model.
	Features map[resolver.Feature]string `yaml:"features"`

	// Timeout is the collection deadline of a completion.
	Timeout time.Duration `yaml:"timeout"`

	// Dotenv lists credential files read in order, relative to the working
	// directory. Missing files are skipped.
	Dotenv []string `yaml:"dotenv"`

	OAuth     map[string]OAuthConfig `yaml:"oauth"`
	HTTP      HTTPConfig             `yaml:"http"`
	Log       LogConfig              `yaml:"log"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`

	dir string
}

// OAuthConfig configures refresh-token credentials for one provider.
type OAuthConfig struct {
	ClientID string   `yaml:"client_id"`
	TokenURL string   `yaml:"token_url"`
	Scopes   []string `yaml:"scopes"`

	// ClientSecretEnv and RefreshTokenEnv name the variables holding the
	// secrets, so that none are stored in the file.
	ClientSecretEnv string `yaml:"client_secret_env"`
	RefreshTokenEnv string `yaml:"refresh_token_env"`
}

// HTTPConfig configures the upstream transport.
type HTTPConfig struct {
	// HeaderTimeout bounds the wait for response headers. Streams are
	// otherwise bounded by the collection timeout.
	HeaderTimeout time.Duration `yaml:"header_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// TelemetryConfig configures telemetry export. Each exporter is enabled by
// its own setting.
type TelemetryConfig struct {
	SQLite        string        `yaml:"sqlite"`
	OTLPEndpoint  string        `yaml:"otlp_endpoint"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueCapacity int           `yaml:"queue_capacity"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Timeout: gateway.DefaultTimeout,
		Dotenv:  []string{".env"},
		HTTP: HTTPConfig{
			HeaderTimeout: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
			QueueCapacity: 1024,
		},
	}
}

// Path returns the config file path: $LLMGW_CONFIG, or llmgw.yaml in the
// user config directory.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "llmgw.yaml"
	}
	return filepath.Join(dir, "llmgw", "llmgw.yaml")
}

// Load reads the config at path over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.dir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings that Load cannot type-check.
func (c *Config) Validate() error {
	for f := range c.Features {
		switch f {
		case resolver.FeatureCompletion, resolver.FeatureCommitMessage, resolver.FeatureAgent, resolver.FeatureImageGeneration:
		default:
			return fmt.Errorf("unknown feature %q", f)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	for id, o := range c.OAuth {
		if o.TokenURL == "" {
			return fmt.Errorf("oauth %q: token_url is required", id)
		}
	}
	if c.Timeout < 0 || c.HTTP.HeaderTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// LoadCatalog returns the configured catalog, or the built-in one.
func (c *Config) LoadCatalog() (*provider.Catalog, error) {
	if c.Catalog == "" {
		return provider.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(c.resolve(c.Catalog))
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return provider.ParseCatalog(data)
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
