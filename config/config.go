package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StoreSQLite = "sqlite"
	StoreBBolt  = "bbolt"
	StoreMemory = "memory"

	BlobsFS     = "fs"
	BlobsS3     = "s3"
	BlobsMemory = "memory"
)

// Config is the runtime configuration of a blog. It is read from a TOML or YAML file and
// environment variables, which take precedence.
type Config struct {
	Store             string `toml:"store" yaml:"store" env:"BLOG_STORE" env-default:"sqlite" validate:"oneof=sqlite bbolt memory"`
	DataDir           string `toml:"data_dir" yaml:"data_dir" env:"BLOG_DATA_DIR" env-default:"data" validate:"required"`
	UploadDir         string `toml:"upload_dir" yaml:"upload_dir" env:"BLOG_UPLOAD_DIR"`
	Blobs             string `toml:"blobs" yaml:"blobs" env:"BLOG_BLOBS" env-default:"fs" validate:"oneof=fs s3 memory"`
	S3Bucket          string `toml:"s3_bucket" yaml:"s3_bucket" env:"BLOG_S3_BUCKET" validate:"required_if=Blobs s3"`
	S3Region          string `toml:"s3_region" yaml:"s3_region" env:"BLOG_S3_REGION" env-default:"us-east-1"`
	S3Endpoint        string `toml:"s3_endpoint" yaml:"s3_endpoint" env:"BLOG_S3_ENDPOINT" validate:"omitempty,url"`
	S3Prefix          string `toml:"s3_prefix" yaml:"s3_prefix" env:"BLOG_S3_PREFIX"`
	PageSize          int    `toml:"page_size" yaml:"page_size" env:"BLOG_PAGE_SIZE" env-default:"5" validate:"min=1,max=100"`
	FrontmatterFormat string `toml:"frontmatter_format" yaml:"frontmatter_format" env:"BLOG_FRONTMATTER_FORMAT" env-default:"yaml" validate:"oneof=yaml toml"`
	LogLevel          string `toml:"log_level" yaml:"log_level" env:"BLOG_LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	OTLPEndpoint      string `toml:"otlp_endpoint" yaml:"otlp_endpoint" env:"BLOG_OTLP_ENDPOINT" validate:"omitempty,url"`
}

// Load reads the configuration from path, or from the environment only when path is empty.
func Load(path string) (*Config, error) {
	var cfg Config

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UploadPath returns the directory for image blobs, defaulting to uploads inside the data directory.
func (c *Config) UploadPath() string {
	if c.UploadDir != "" {
		return c.UploadDir
	}
	return filepath.Join(c.DataDir, "uploads")
}

// SQLitePath returns the path of the SQLite database file
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "blog.db")
}

// SlogLevel maps LogLevel to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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
