// Package config loads deck processor settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is reported by the metrics endpoint and the CLI.
const Version = "1.0.0"

// Config holds all configuration for the deck processor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Renderer      RendererConfig      `yaml:"renderer"`
	Validation    ValidationConfig    `yaml:"validation"`
	Cache         CacheConfig         `yaml:"cache"`
	Status        StatusConfig        `yaml:"status"`
	Database      DatabaseConfig      `yaml:"database"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// ProcessingConfig holds job manager and pipeline settings.
type ProcessingConfig struct {
	MaxWorkers          int           `yaml:"max_workers"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	SlideConcurrency    int           `yaml:"slide_concurrency"`
	UploadDir           string        `yaml:"upload_dir"`
	WorkDir             string        `yaml:"work_dir"`
	SegmentMaxLength    int           `yaml:"segment_max_length"`
	ThumbnailWidth      int           `yaml:"thumbnail_width"`
	TitleMinHeightRatio float64       `yaml:"title_min_height_ratio"`
	// RecoverOnStart requeues jobs left unfinished by a previous process.
	RecoverOnStart      bool          `yaml:"recover_on_start"`
}

// RendererConfig holds settings for the external LibreOffice renderer.
type RendererConfig struct {
	LibreOfficePath string        `yaml:"libreoffice_path"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ValidationConfig holds the SVG text matching thresholds.
type ValidationConfig struct {
	SubstringThreshold float64 `yaml:"substring_threshold"`
	JaccardThreshold   float64 `yaml:"jaccard_threshold"`
	CharSetThreshold   float64 `yaml:"charset_threshold"`
	CharSetMinLength   int     `yaml:"charset_min_length"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // file, memory or redis
	Dir        string        `yaml:"dir"`
	TTL        time.Duration `yaml:"ttl"` // 0 keeps entries forever
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// StatusConfig holds job status store settings.
type StatusConfig struct {
	SnapshotDir     string        `yaml:"snapshot_dir"`
	Retention       time.Duration `yaml:"retention"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	PublishEvents   bool          `yaml:"publish_events"`
	EventChannel    string        `yaml:"event_channel"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ArtifactsConfig holds object storage settings.
type ArtifactsConfig struct {
	Driver           string      `yaml:"driver"` // local or s3
	LocalDir         string      `yaml:"local_dir"`
	PublicBaseURL    string      `yaml:"public_base_url"`
	SlidesBucket     string      `yaml:"slides_bucket"`
	ResultsBucket    string      `yaml:"results_bucket"`
	UploadsPerSecond float64     `yaml:"uploads_per_second"` // 0 disables throttling
	Retry            RetryConfig `yaml:"retry"`
	S3               S3Config    `yaml:"s3"`
}

// RetryConfig holds upload retry settings.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// S3Config holds S3-compatible endpoint settings.
type S3Config struct {
	Endpoint        string        `yaml:"endpoint"`
	AccessKey       string        `yaml:"access_key"`
	SecretKey       string        `yaml:"secret_key"`
	Region          string        `yaml:"region"`
	UseSSL          bool          `yaml:"use_ssl"`
	SignedURLs      bool          `yaml:"signed_urls"`
	SignedURLExpiry time.Duration `yaml:"signed_url_expiry"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: env %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxUploadBytes:   50 << 20,
			AllowedOrigins:   []string{"*"},
		},
		Processing: ProcessingConfig{
			MaxWorkers:          4,
			PollInterval:        time.Second,
			DrainTimeout:        60 * time.Second,
			SlideConcurrency:    1,
			UploadDir:           "./tmp/uploads",
			WorkDir:             "./tmp/processing",
			SegmentMaxLength:    120,
			ThumbnailWidth:      250,
			TitleMinHeightRatio: 0.05,
			RecoverOnStart:      true,
		},
		Renderer: RendererConfig{
			LibreOfficePath: "soffice",
			Timeout:         120 * time.Second,
		},
		Validation: ValidationConfig{
			SubstringThreshold: 0.7,
			JaccardThreshold:   0.6,
			CharSetThreshold:   0.5,
			CharSetMinLength:   5,
		},
		Cache: CacheConfig{
			Driver:     "file",
			Dir:        "./tmp/cache",
			TTL:        0,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "deck:",
			},
		},
		Status: StatusConfig{
			SnapshotDir:     "./tmp/job_status",
			Retention:       24 * time.Hour,
			JanitorInterval: 10 * time.Minute,
			EventChannel:    "job-status",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "./tmp/deck-processor.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Artifacts: ArtifactsConfig{
			Driver:        "local",
			LocalDir:      "./tmp/artifacts",
			SlidesBucket:  "slide-visuals",
			ResultsBucket: "processing-results",
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: time.Second,
				MaxBackoff:     10 * time.Second,
			},
			S3: S3Config{
				Region:          "us-east-1",
				SignedURLExpiry: 24 * time.Hour,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "deck-processor",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	switch c.Cache.Driver {
	case "file", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Artifacts.Driver != "local" && c.Artifacts.Driver != "s3" {
		return fmt.Errorf("invalid artifacts driver: %s", c.Artifacts.Driver)
	}

	if c.Artifacts.Driver == "s3" && c.Artifacts.S3.Endpoint == "" {
		return fmt.Errorf("artifacts.s3.endpoint is required for the s3 driver")
	}

	for name, v := range map[string]float64{
		"substring_threshold": c.Validation.SubstringThreshold,
		"jaccard_threshold":   c.Validation.JaccardThreshold,
		"charset_threshold":   c.Validation.CharSetThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("validation.%s must be in (0, 1], got %v", name, v)
		}
	}

	if c.Processing.SegmentMaxLength < 10 {
		return fmt.Errorf("segment_max_length must be at least 10")
	}

	if c.Processing.ThumbnailWidth < 16 {
		return fmt.Errorf("thumbnail_width must be at least 16")
	}

	if c.Processing.UploadDir == "" || c.Processing.WorkDir == "" {
		return fmt.Errorf("upload_dir and work_dir are required")
	}

	return nil
}

type envOverride struct {
	name  string
	apply func(cfg *Config, v string) error
}

func intSetter(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func strSetter(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

var envOverrides = []envOverride{
	{"SERVER_HOST", strSetter(func(c *Config) *string { return &c.Server.Host })},
	{"SERVER_PORT", intSetter(func(c *Config) *int { return &c.Server.Port })},
	{"ALLOWED_ORIGINS", func(c *Config, v string) error {
		c.Server.AllowedOrigins = splitList(v)
		return nil
	}},
	{"MAX_CONCURRENT_JOBS", intSetter(func(c *Config) *int { return &c.Processing.MaxWorkers })},
	{"UPLOAD_DIR", strSetter(func(c *Config) *string { return &c.Processing.UploadDir })},
	{"WORK_DIR", strSetter(func(c *Config) *string { return &c.Processing.WorkDir })},
	{"THUMBNAIL_WIDTH", intSetter(func(c *Config) *int { return &c.Processing.ThumbnailWidth })},
	{"LIBREOFFICE_PATH", strSetter(func(c *Config) *string { return &c.Renderer.LibreOfficePath })},
	{"CACHE_DIR", strSetter(func(c *Config) *string { return &c.Cache.Dir })},
	{"REDIS_URL", func(c *Config, v string) error {
		c.Cache.Driver = "redis"
		c.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
		c.Status.PublishEvents = true
		return nil
	}},
	{"DATABASE_URL", applyDatabaseURL},
	{"ARTIFACTS_DRIVER", strSetter(func(c *Config) *string { return &c.Artifacts.Driver })},
	{"S3_ENDPOINT", strSetter(func(c *Config) *string { return &c.Artifacts.S3.Endpoint })},
	{"S3_ACCESS_KEY", strSetter(func(c *Config) *string { return &c.Artifacts.S3.AccessKey })},
	{"S3_SECRET_KEY", strSetter(func(c *Config) *string { return &c.Artifacts.S3.SecretKey })},
	{"SLIDES_BUCKET", strSetter(func(c *Config) *string { return &c.Artifacts.SlidesBucket })},
	{"RESULTS_BUCKET", strSetter(func(c *Config) *string { return &c.Artifacts.ResultsBucket })},
	{"LOG_LEVEL", strSetter(func(c *Config) *string { return &c.Observability.LogLevel })},
	{"LOG_FORMAT", strSetter(func(c *Config) *string { return &c.Observability.LogFormat })},
}

// applyDatabaseURL accepts "sqlite:<path>" or a postgres:// DSN.
func applyDatabaseURL(c *Config, v string) error {
	switch {
	case strings.HasPrefix(v, "sqlite:"):
		c.Database.Driver = "sqlite"
		c.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
	case strings.HasPrefix(v, "postgres://"), strings.HasPrefix(v, "postgresql://"):
		c.Database.Driver = "postgres"
		c.Database.Postgres.DSN = v
	default:
		return fmt.Errorf("unsupported scheme")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
