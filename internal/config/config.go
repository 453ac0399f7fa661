// Package config loads atlas configuration from a YAML file, a .env file
// and ATLAS_* environment variables, in increasing order of precedence.
//
// Every storage root comes from here; nothing defaults to a home
// directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/atlas/internal/ir"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "atlas.yaml"

// Object store backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config is the full configuration.
type Config struct {
	Database  string        `yaml:"database"`
	Dimension string        `yaml:"dimension"`
	Taxonomy  string        `yaml:"taxonomy"` // CUE file; empty uses the embedded Norway taxonomy
	Objects   ObjectsConfig `yaml:"objects"`
	Redis     RedisConfig   `yaml:"redis"`
	Klass     KlassConfig   `yaml:"klass"`
	Retry     RetryConfig   `yaml:"retry"`
	Log       LogConfig     `yaml:"log"`
}

// ObjectsConfig selects where raw documents and snapshots are written.
type ObjectsConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// RedisConfig configures the snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// KlassConfig configures the Statistics Norway client.
type KlassConfig struct {
	BaseURL   string        `yaml:"base_url"`
	TablesURL string        `yaml:"tables_url"` // statistics bank, for election results
	Timeout   time.Duration `yaml:"timeout"`
}

// RetryConfig bounds retries of remote calls.
type RetryConfig struct {
	Attempts uint64        `yaml:"attempts"`
	Base     time.Duration `yaml:"base"`
	Max      time.Duration `yaml:"max"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database:  "atlas.db",
		Dimension: "nor/1a",
		Objects:   ObjectsConfig{Backend: BackendFS, Dir: "data"},
		Redis:     RedisConfig{TTL: 24 * time.Hour},
		Klass: KlassConfig{
			BaseURL:   "https://data.ssb.no/api/klass/v1",
			TablesURL: "https://data.ssb.no/api/v0/no/table",
			Timeout:   30 * time.Second,
		},
		Retry: RetryConfig{Attempts: 3, Base: 200 * time.Millisecond, Max: 5 * time.Second},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// DefaultFile is read if present. A .env file in the working directory is
// loaded into the environment first without overriding variables already
// set.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ATLAS_DB":             &c.Database,
		"ATLAS_DIMENSION":      &c.Dimension,
		"ATLAS_TAXONOMY":       &c.Taxonomy,
		"ATLAS_OBJECTS":        &c.Objects.Backend,
		"ATLAS_DATA_DIR":       &c.Objects.Dir,
		"ATLAS_S3_BUCKET":      &c.Objects.S3.Bucket,
		"ATLAS_S3_REGION":      &c.Objects.S3.Region,
		"ATLAS_S3_PROFILE":     &c.Objects.S3.Profile,
		"ATLAS_S3_ENDPOINT":    &c.Objects.S3.Endpoint,
		"ATLAS_S3_PREFIX":      &c.Objects.S3.Prefix,
		"ATLAS_REDIS_ADDR":     &c.Redis.Addr,
		"ATLAS_REDIS_PASSWORD": &c.Redis.Password,
		"ATLAS_KLASS_URL":      &c.Klass.BaseURL,
		"ATLAS_TABLES_URL":     &c.Klass.TablesURL,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	if v, ok := lookup("ATLAS_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATLAS_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	durations := map[string]*time.Duration{
		"ATLAS_REDIS_TTL":     &c.Redis.TTL,
		"ATLAS_KLASS_TIMEOUT": &c.Klass.Timeout,
	}
	for name, dst := range durations {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ir.ParseDimension(c.Dimension); err != nil {
		return ir.NewValidationError("dimension", c.Dimension, err.Error())
	}
	switch c.Objects.Backend {
	case "", BackendFS:
		if strings.TrimSpace(c.Objects.Dir) == "" {
			return ir.NewValidationError("objects.dir", "", "filesystem backend needs a directory")
		}
	case BackendS3:
		if c.Objects.S3.Bucket == "" {
			return ir.NewValidationError("objects.s3.bucket", "", "s3 backend needs a bucket")
		}
	default:
		return ir.NewValidationError("objects.backend", c.Objects.Backend, "want fs or s3")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return ir.NewValidationError("log.format", c.Log.Format, "want text or json")
	}
	if c.Retry.Max < c.Retry.Base {
		return ir.NewValidationError("retry.max", c.Retry.Max.String(), "must not be below retry.base")
	}
	return nil
}

// DimensionID returns the parsed dimension.
func (c Config) DimensionID() ir.Dimension {
	d, _ := ir.ParseDimension(c.Dimension)
	return d
}
