// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRabbitURLRequired is returned when RABBITMQ_URL is not set.
	ErrRabbitURLRequired = errors.New("config: RABBITMQ_URL is required")
	// ErrMongoURLRequired is returned when MONGODB_URL is not set.
	ErrMongoURLRequired = errors.New("config: MONGODB_URL is required")
	// ErrBlobEndpointRequired is returned when S3_ENDPOINT is not set.
	ErrBlobEndpointRequired = errors.New("config: S3_ENDPOINT is required")
)

// Config holds all configuration for the STT worker and submit CLI.
type Config struct {
	// Queue settings
	RabbitURL        string `env:"RABBITMQ_URL, required" json:"-"` // Masked in JSON
	RabbitExchange   string `env:"RABBITMQ_EXCHANGE, default=stt_exchange" json:"rabbit_exchange"`
	RabbitQueue      string `env:"RABBITMQ_QUEUE, default=stt_jobs" json:"rabbit_queue"`
	RabbitRoutingKey string `env:"RABBITMQ_ROUTING_KEY, default=stt.process" json:"rabbit_routing_key"`
	RabbitDLQ        string `env:"RABBITMQ_DLQ, default=stt_jobs_dlq" json:"rabbit_dlq"`

	// Blob store settings
	BlobEndpoint    string `env:"S3_ENDPOINT, required" json:"blob_endpoint"`
	BlobRegion      string `env:"S3_REGION, default=us-east-1" json:"blob_region"`
	BlobBucket      string `env:"S3_BUCKET, default=stt-audio" json:"blob_bucket"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Job store settings
	MongoURL      string `env:"MONGODB_URL, required" json:"-"` // Masked in JSON
	MongoDatabase string `env:"MONGODB_DATABASE, default=stt" json:"mongo_database"`

	// Worker settings
	MaxConcurrentJobs  int `env:"MAX_CONCURRENT_JOBS, default=2" json:"max_concurrent_jobs"`
	MaxParallelWorkers int `env:"MAX_PARALLEL_WORKERS, default=4" json:"max_parallel_workers"`
	MaxRetries         int `env:"MAX_RETRIES, default=3" json:"max_retries"`
	ChunkTimeoutSec    int `env:"CHUNK_TIMEOUT_S, default=300" json:"chunk_timeout_sec"`
	JobTimeoutSec      int `env:"JOB_TIMEOUT_S, default=3600" json:"job_timeout_sec"`
	DrainTimeoutSec    int `env:"DRAIN_TIMEOUT_S, default=60" json:"drain_timeout_sec"`

	// Chunking settings
	ChunkDurationSec int     `env:"CHUNK_DURATION_S, default=30" json:"chunk_duration_sec"`
	SilenceThreshDB  float64 `env:"SILENCE_THRESH_DB, default=-40" json:"silence_thresh_db"`
	MinSilenceSec    float64 `env:"MIN_SILENCE_S, default=1" json:"min_silence_sec"`
	MinChunkSec      float64 `env:"MIN_CHUNK_S, default=2" json:"min_chunk_sec"`
	MaxChunkSec      float64 `env:"MAX_CHUNK_S, default=60" json:"max_chunk_sec"`
	FilterIntroOutro bool    `env:"FILTER_INTRO_OUTRO, default=true" json:"filter_intro_outro"`

	// Transcriber settings
	WhisperExecutable string `env:"WHISPER_EXECUTABLE, default=whisper-cli" json:"whisper_executable"`
	WhisperModelsDir  string `env:"WHISPER_MODELS_DIR, default=./whisper/models" json:"whisper_models_dir"`
	DefaultModel      string `env:"DEFAULT_MODEL, default=medium" json:"default_model"`
	DefaultLanguage   string `env:"DEFAULT_LANGUAGE, default=vi" json:"default_language"`

	// Submission settings
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=500" json:"max_upload_mb"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/stt-worker" json:"temp_dir"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(ctx, cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "RABBITMQ_URL") {
			return nil, ErrRabbitURLRequired
		}
		if strings.Contains(err.Error(), "MONGODB_URL") {
			return nil, ErrMongoURLRequired
		}
		if strings.Contains(err.Error(), "S3_ENDPOINT") {
			return nil, ErrBlobEndpointRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.RabbitURL == "" {
		return ErrRabbitURLRequired
	}
	if c.MongoURL == "" {
		return ErrMongoURLRequired
	}
	if c.BlobEndpoint == "" {
		return ErrBlobEndpointRequired
	}
	if c.MaxConcurrentJobs < 1 {
		return errors.New("config: MAX_CONCURRENT_JOBS must be >= 1")
	}
	if c.MaxParallelWorkers < 1 {
		return errors.New("config: MAX_PARALLEL_WORKERS must be >= 1")
	}
	if c.MinChunkSec > c.MaxChunkSec {
		return errors.New("config: MIN_CHUNK_S must not exceed MAX_CHUNK_S")
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Exchange: %s, Queue: %s, DLQ: %s, Bucket: %s, Database: %s, MaxConcurrentJobs: %d, MaxParallelWorkers: %d, ChunkDuration: %ds, DefaultModel: %s, LogFormat: %s, LogLevel: %s}",
		c.RabbitExchange,
		c.RabbitQueue,
		c.RabbitDLQ,
		c.BlobBucket,
		c.MongoDatabase,
		c.MaxConcurrentJobs,
		c.MaxParallelWorkers,
		c.ChunkDurationSec,
		c.DefaultModel,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
