// Package config loads evaluation and service settings from struct
// defaults, an optional TOML file and FACEEVAL_* environment variables, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	defaults "github.com/mcuadros/go-defaults"

	"github.com/example/faceeval/internal/gallery"
	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/matcher"
)

// ErrInvalid is returned by Validate for unusable settings.
var ErrInvalid = errors.New("config: invalid value")

// Config is the full set of settings for one process. The acceptance
// threshold is read once at startup and handed to every component that needs
// it; nothing reads it from package state.
type Config struct {
	DatabasePath        string  `toml:"database_path" default:"data/database"`
	AcceptanceThreshold float64 `toml:"acceptance_threshold" default:"0.5"`
	Workers             int     `toml:"workers" default:"1"`

	Matcher MatcherConfig `toml:"matcher"`
	Labels  LabelConfig   `toml:"labels"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
}

// MatcherConfig selects and tunes the face matcher backend.
type MatcherConfig struct {
	Backend     string        `toml:"backend" default:"index"`
	Address     string        `toml:"address" default:"face-service:50051"`
	Metric      string        `toml:"metric" default:"cosine"`
	DialTimeout time.Duration `toml:"dial_timeout" default:"5s"`

	// WarmupImage is an image searched once at startup when the backend
	// cannot load the gallery on its own.
	WarmupImage string `toml:"warmup_image"`
}

// LabelConfig describes how identity labels are recovered from gallery paths.
type LabelConfig struct {
	Strategy string `toml:"strategy" default:"relative"`
	Index    int    `toml:"index" default:"0"`
}

// ServerConfig holds settings for the HTTP service and its backing stores.
type ServerConfig struct {
	Addr            string        `toml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" default:"15s"`
	DatabaseDSN     string        `toml:"database_dsn"`
	RedisAddr       string        `toml:"redis_addr"`
	ReportTTL       time.Duration `toml:"report_ttl" default:"24h"`
	JWTSecret       string        `toml:"jwt_secret"`
	JWTAudience     string        `toml:"jwt_audience"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level        string        `toml:"level" default:"info"`
	File         string        `toml:"file"`
	MaxAge       time.Duration `toml:"max_age" default:"168h"`
	RotationTime time.Duration `toml:"rotation_time" default:"24h"`
}

// Default returns a Config populated from the struct tag defaults only.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if math.IsNaN(c.AcceptanceThreshold) || c.AcceptanceThreshold < 0 {
		return fmt.Errorf("%w: acceptance_threshold must be a non-negative number, got %v", ErrInvalid, c.AcceptanceThreshold)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database_path is required", ErrInvalid)
	}
	switch c.Matcher.Backend {
	case "index", "grpc":
	default:
		return fmt.Errorf("%w: matcher.backend %q (want index or grpc)", ErrInvalid, c.Matcher.Backend)
	}
	if _, err := matcher.ParseMetric(c.Matcher.Metric); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.Labeler(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// AuthorizedGallery is the gallery the matcher searches.
func (c *Config) AuthorizedGallery() string {
	return filepath.Join(c.DatabasePath, "authorized_users")
}

// IncomingAuthorized is the population root of queries that should be granted.
func (c *Config) IncomingAuthorized() string {
	return filepath.Join(c.DatabasePath, "incoming_users", "authorized_users")
}

// IncomingUnauthorized is the population root of queries that should be denied.
func (c *Config) IncomingUnauthorized() string {
	return filepath.Join(c.DatabasePath, "incoming_users", "unauthorized_users")
}

// Labeler builds the configured gallery path-to-label strategy.
func (c *Config) Labeler() (gallery.Labeler, error) {
	return gallery.NewLabeler(c.Labels.Strategy, c.AuthorizedGallery(), c.Labels.Index)
}

// LogOptions converts the [log] section for logging.NewLogger.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:        c.Log.Level,
		File:         c.Log.File,
		MaxAge:       c.Log.MaxAge,
		RotationTime: c.Log.RotationTime,
	}
}

func (c *Config) applyEnv() error {
	setString(&c.DatabasePath, "FACEEVAL_DATABASE_PATH")
	setString(&c.Matcher.Backend, "FACEEVAL_MATCHER_BACKEND")
	setString(&c.Matcher.Address, "FACEEVAL_MATCHER_ADDR")
	setString(&c.Matcher.Metric, "FACEEVAL_METRIC")
	setString(&c.Matcher.WarmupImage, "FACEEVAL_WARMUP_IMAGE")
	setString(&c.Labels.Strategy, "FACEEVAL_LABEL_STRATEGY")
	setString(&c.Server.Addr, "FACEEVAL_HTTP_ADDR")
	setString(&c.Server.DatabaseDSN, "DATABASE_DSN")
	setString(&c.Server.RedisAddr, "REDIS_ADDR")
	setString(&c.Server.JWTSecret, "JWT_SECRET")
	setString(&c.Server.JWTAudience, "JWT_AUDIENCE")
	setString(&c.Log.Level, "FACEEVAL_LOG_LEVEL")
	setString(&c.Log.File, "FACEEVAL_LOG_FILE")

	if v := os.Getenv("FACEEVAL_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: FACEEVAL_THRESHOLD: %v", ErrInvalid, err)
		}
		c.AcceptanceThreshold = f
	}
	if v := os.Getenv("FACEEVAL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: FACEEVAL_WORKERS: %v", ErrInvalid, err)
		}
		c.Workers = n
	}
	if v := os.Getenv("FACEEVAL_LABEL_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: FACEEVAL_LABEL_INDEX: %v", ErrInvalid, err)
		}
		c.Labels.Index = n
	}
	return nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}
