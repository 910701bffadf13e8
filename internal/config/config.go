// Package config loads daemon settings: defaults, then an optional YAML or
// JSON file, then COLLECTIONS_* environment variables, then validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/celerix-dev/celerix-collections/internal/ctxutil"
	"github.com/celerix-dev/celerix-collections/internal/vault"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete daemon configuration.
type Config struct {
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	TCP     TCPConfig     `json:"tcp" yaml:"tcp"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Ingest  IngestConfig  `json:"ingest" yaml:"ingest"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// HTTPConfig configures the REST API.
type HTTPConfig struct {
	Addr            string        `json:"addr" yaml:"addr" validate:"required"`
	CORSOrigin      string        `json:"cors_origin" yaml:"cors_origin"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// TCPConfig configures the line protocol listener.
type TCPConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Addr        string        `json:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	TLS         bool          `json:"tls" yaml:"tls"`
	MaxConns    int           `json:"max_conns" yaml:"max_conns" validate:"min=1"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver" validate:"oneof=memory json sqlite postgres"`
	DataDir     string `json:"data_dir" yaml:"data_dir" validate:"required_if=Driver json"`
	SQLitePath  string `json:"sqlite_path" yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	// VaultKey enables at-rest encryption of JSON record files: 64 hex
	// characters or 32 raw bytes.
	VaultKey string `json:"vault_key" yaml:"vault_key"`
}

// IngestConfig bounds uploads.
type IngestConfig struct {
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	DefaultActor   string `json:"default_actor" yaml:"default_actor" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json text"`
}

// jsonDuration decodes a duration from JSON as either a string such as
// "10s" or integer nanoseconds, matching what the YAML path accepts.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = jsonDuration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\" or nanoseconds: %w", err)
	}
	*d = jsonDuration(n)
	return nil
}

func (c *HTTPConfig) UnmarshalJSON(b []byte) error {
	type plain HTTPConfig
	aux := struct {
		*plain
		ShutdownTimeout jsonDuration `json:"shutdown_timeout"`
	}{plain: (*plain)(c), ShutdownTimeout: jsonDuration(c.ShutdownTimeout)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.ShutdownTimeout = time.Duration(aux.ShutdownTimeout)
	return nil
}

func (c *TCPConfig) UnmarshalJSON(b []byte) error {
	type plain TCPConfig
	aux := struct {
		*plain
		IdleTimeout jsonDuration `json:"idle_timeout"`
	}{plain: (*plain)(c), IdleTimeout: jsonDuration(c.IdleTimeout)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	c.IdleTimeout = time.Duration(aux.IdleTimeout)
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":7002",
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
		},
		TCP: TCPConfig{
			Enabled:     true,
			Addr:        ":7001",
			TLS:         true,
			MaxConns:    100,
			IdleTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Driver:  DriverJSON,
			DataDir: "./data",
		},
		Ingest: IngestConfig{
			MaxUploadBytes: 10 << 20,
			DefaultActor:   ctxutil.DefaultActor,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("COLLECTIONS_HTTP_ADDR", &cfg.HTTP.Addr)
	str("COLLECTIONS_CORS_ORIGIN", &cfg.HTTP.CORSOrigin)
	str("COLLECTIONS_TCP_ADDR", &cfg.TCP.Addr)
	str("COLLECTIONS_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("COLLECTIONS_DATA_DIR", &cfg.Storage.DataDir)
	str("COLLECTIONS_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("COLLECTIONS_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("COLLECTIONS_VAULT_KEY", &cfg.Storage.VaultKey)
	str("COLLECTIONS_DEFAULT_ACTOR", &cfg.Ingest.DefaultActor)
	str("COLLECTIONS_LOG_LEVEL", &cfg.Log.Level)
	str("COLLECTIONS_LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("COLLECTIONS_DISABLE_TLS"); v != "" {
		cfg.TCP.TLS = !(v == "true" || v == "1")
	}
	if v := os.Getenv("COLLECTIONS_DISABLE_TCP"); v != "" {
		cfg.TCP.Enabled = !(v == "true" || v == "1")
	}
	if v := os.Getenv("COLLECTIONS_MAX_CONNS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.TCP.MaxConns = i
		}
	}
	if v := os.Getenv("COLLECTIONS_MAX_UPLOAD_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.MaxUploadBytes = i
		}
	}
	if v := os.Getenv("COLLECTIONS_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ShutdownTimeout = d
		}
	}
}

var configValidate = validator.New()

// Validate checks every section.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.VaultKey != "" {
		if _, err := vault.ParseKey(c.Storage.VaultKey); err != nil {
			return fmt.Errorf("invalid config: storage.vault_key: %w", err)
		}
	}
	return nil
}

// SlogLevel maps the configured level name.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the configured format.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
