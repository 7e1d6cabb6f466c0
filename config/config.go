// Package config loads runcore settings.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// RUNCORE_* environment variables. A .env file is loaded first and never
// overrides variables already set in the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-runcore/artifacts"
	"github.com/goliatone/go-runcore/store"
)

const EnvPrefix = "RUNCORE_"

var ErrInvalid = apperrors.New("invalid configuration", apperrors.CategoryBadInput).
	WithTextCode("CONFIG_INVALID")

type Config struct {
	// Platform selects the framework runnables are executed on.
	Platform  string          `yaml:"platform"`
	Poller    PollerConfig    `yaml:"poller"`
	Store     StoreConfig     `yaml:"store"`
	Docker    DockerConfig    `yaml:"docker"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type PollerConfig struct {
	Delay           time.Duration `yaml:"delay"`
	Async           bool          `yaml:"async"`
	Cron            string        `yaml:"cron"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ExecuteRetries  int           `yaml:"execute_retries"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Options maps the section onto store.Open options.
func (c StoreConfig) Options() store.Options {
	return store.Options{
		Driver:        c.Driver,
		DSN:           c.DSN,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

type DockerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ArtifactsConfig struct {
	Enabled               bool `yaml:"enabled"`
	artifacts.MinioConfig `yaml:",inline"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
	Queue  string `yaml:"queue"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	// Addr serves /metrics when set.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Platform: "docker",
		Poller: PollerConfig{
			Delay:           5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ExecuteRetries:  3,
		},
		Store:     StoreConfig{Driver: "memory"},
		Docker:    DockerConfig{Enabled: true},
		Artifacts: ArtifactsConfig{MinioConfig: artifacts.MinioConfig{Bucket: artifacts.DefaultBucket}},
		NATS:      NATSConfig{Prefix: "runcore"},
		Metrics:   MetricsConfig{Namespace: "runcore"},
		Log:       LogConfig{Level: "info", JSON: true},
	}
}

// Load resolves the configuration. An empty path skips the YAML file; a
// path that cannot be read is an error. envFiles default to ".env" and may
// be missing.
func Load(path string, envFiles ...string) (*Config, error) {
	loadEnvFiles(envFiles)

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

func loadEnvFiles(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overrides fields from RUNCORE_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, invalid(EnvPrefix+name, v, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, invalid(EnvPrefix+name, v, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, invalid(EnvPrefix+name, v, err))
				return
			}
			*dst = d
		}
	}

	str("PLATFORM", &c.Platform)

	duration("POLL_DELAY", &c.Poller.Delay)
	boolean("POLL_ASYNC", &c.Poller.Async)
	str("POLL_CRON", &c.Poller.Cron)
	duration("POLL_SHUTDOWN_TIMEOUT", &c.Poller.ShutdownTimeout)
	integer("EXECUTE_RETRIES", &c.Poller.ExecuteRetries)

	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("REDIS_ADDR", &c.Store.RedisAddr)
	str("REDIS_PASSWORD", &c.Store.RedisPassword)
	integer("REDIS_DB", &c.Store.RedisDB)

	boolean("DOCKER_ENABLED", &c.Docker.Enabled)

	boolean("ARTIFACTS_ENABLED", &c.Artifacts.Enabled)
	str("MINIO_ENDPOINT", &c.Artifacts.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Artifacts.AccessKey)
	str("MINIO_SECRET_KEY", &c.Artifacts.SecretKey)
	str("MINIO_BUCKET", &c.Artifacts.Bucket)
	boolean("MINIO_USE_SSL", &c.Artifacts.UseSSL)

	str("NATS_URL", &c.NATS.URL)
	str("NATS_PREFIX", &c.NATS.Prefix)
	str("NATS_QUEUE", &c.NATS.Queue)

	str("METRICS_NAMESPACE", &c.Metrics.Namespace)
	str("METRICS_ADDR", &c.Metrics.Addr)

	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_JSON", &c.Log.JSON)

	return errors.Join(errs...)
}

// Validate reports every inconsistent field at once.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Platform) == "" {
		problems = append(problems, "platform is required")
	}
	if c.Poller.Delay < 0 {
		problems = append(problems, "poller.delay must not be negative")
	}
	if c.Poller.ExecuteRetries < 0 {
		problems = append(problems, "poller.execute_retries must not be negative")
	}
	switch c.Store.Driver {
	case "", "memory", "sqlite", "postgres", "pgx":
	case "redis":
		if c.Store.RedisAddr == "" {
			problems = append(problems, "store.redis_addr is required for the redis driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if (c.Store.Driver == "postgres" || c.Store.Driver == "pgx") && c.Store.DSN == "" {
		problems = append(problems, "store.dsn is required for the postgres driver")
	}
	if c.Artifacts.Enabled && c.Artifacts.Endpoint == "" {
		problems = append(problems, "artifacts.endpoint is required when artifacts are enabled")
	}
	if len(problems) == 0 {
		return nil
	}

	e := ErrInvalid.Clone()
	e.Message = "invalid configuration: " + strings.Join(problems, "; ")
	return e.WithMetadata(map[string]any{"problems": problems})
}

func invalid(name, value string, cause error) error {
	e := ErrInvalid.Clone()
	e.Message = fmt.Sprintf("invalid value %q for %s", value, name)
	e.Source = cause
	return e.WithMetadata(map[string]any{"variable": name})
}
