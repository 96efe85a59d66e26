package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// SQLite database file
	DatabaseFile string `mapstructure:"DATABASE_FILE"`

	// Staging object store (S3-compatible)
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3BucketName      string `mapstructure:"S3_BUCKET_NAME"`
	S3UseSSL          bool   `mapstructure:"S3_USE_SSL"`

	// OpenRouter (classification/extraction + vision OCR)
	OpenRouterAPIKey      string  `mapstructure:"OPENROUTER_API_KEY"`
	OpenRouterModel       string  `mapstructure:"OPENROUTER_MODEL"`
	OpenRouterVisionModel string  `mapstructure:"OPENROUTER_VISION_MODEL"`
	OpenRouterRPS         float64 `mapstructure:"OPENROUTER_RPS"`

	// Email transmission provider
	EmailAPIURL   string `mapstructure:"EMAIL_API_URL"`
	EmailAPIKey   string `mapstructure:"EMAIL_API_KEY"`
	EmailFromAddr string `mapstructure:"EMAIL_FROM_ADDR"`

	// Fax transmission provider
	FaxAPIURL string `mapstructure:"FAX_API_URL"`
	FaxAPIKey string `mapstructure:"FAX_API_KEY"`

	// Pipeline limits
	MaxFileSize       int64         `mapstructure:"MAX_FILE_SIZE"`
	MaxConcurrentRuns int           `mapstructure:"MAX_CONCURRENT_RUNS"`
	CapabilityTimeout time.Duration `mapstructure:"CAPABILITY_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_FILE", "data/intake.db")
	v.SetDefault("S3_ENDPOINT", "localhost:9000")
	v.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_BUCKET_NAME", "document-staging")
	v.SetDefault("S3_USE_SSL", false)
	v.SetDefault("OPENROUTER_MODEL", "openai/gpt-4o-mini")
	v.SetDefault("OPENROUTER_VISION_MODEL", "openai/gpt-4o")
	v.SetDefault("OPENROUTER_RPS", 2.0)
	v.SetDefault("EMAIL_API_URL", "https://api.resend.com")
	v.SetDefault("FAX_API_URL", "https://api.phaxio.com/v2")
	v.SetDefault("MAX_FILE_SIZE", int64(100<<20))
	v.SetDefault("MAX_CONCURRENT_RUNS", 4)
	v.SetDefault("CAPABILITY_TIMEOUT", 60*time.Second)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_FILE",
		"S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"S3_BUCKET_NAME", "S3_USE_SSL",
		"OPENROUTER_API_KEY", "OPENROUTER_MODEL", "OPENROUTER_VISION_MODEL", "OPENROUTER_RPS",
		"EMAIL_API_URL", "EMAIL_API_KEY", "EMAIL_FROM_ADDR",
		"FAX_API_URL", "FAX_API_KEY",
		"MAX_FILE_SIZE", "MAX_CONCURRENT_RUNS", "CAPABILITY_TIMEOUT",
	} {
		v.BindEnv(key)
	}

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	if cfg.MaxConcurrentRuns < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_RUNS must be at least 1")
	}

	return cfg, nil
}
