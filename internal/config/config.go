// Package config loads Zip Drop settings from the environment (and an
// optional .env file) and validates them at startup so misconfiguration
// fails fast with every problem listed at once.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultMaxUploadBytes is the 1 GiB upload ceiling.
const DefaultMaxUploadBytes int64 = 1 << 30

// Backends accepted by ZD_STORAGE_BACKEND.
const (
	BackendLocal = "local"
	BackendMinio = "minio"
)

// Config is the full runtime configuration.
type Config struct {
	Port      string `envconfig:"PORT" default:"3000"`
	UploadDir string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	PublicDir string `envconfig:"PUBLIC_DIR" default:"./public"`

	MaxUploadBytes int64 `envconfig:"ZD_MAX_UPLOAD_BYTES" default:"1073741824"`

	StorageBackend string `envconfig:"ZD_STORAGE_BACKEND" default:"local"`
	S3Endpoint     string `envconfig:"ZD_S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"ZD_S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"ZD_S3_SECRET_KEY"`
	S3Region       string `envconfig:"ZD_S3_REGION"`
	Bucket         string `envconfig:"ZD_BUCKET"`
	S3Prefix       string `envconfig:"ZD_S3_PREFIX"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Large uploads over slow links need minutes, not the usual seconds.
	ReadTimeout  time.Duration `envconfig:"ZD_READ_TIMEOUT" default:"30m"`
	WriteTimeout time.Duration `envconfig:"ZD_WRITE_TIMEOUT" default:"30m"`
	IdleTimeout  time.Duration `envconfig:"ZD_IDLE_TIMEOUT" default:"5m"`

	UploadRateLimit int `envconfig:"ZD_UPLOAD_RATE_LIMIT" default:"0"` // uploads per minute per IP, 0 = off
	UploadRateBurst int `envconfig:"ZD_UPLOAD_RATE_BURST" default:"5"`

	StagingMaxAge time.Duration `envconfig:"ZD_STAGING_MAX_AGE" default:"1h"`
	SweepInterval time.Duration `envconfig:"ZD_SWEEP_INTERVAL" default:"15m"`

	LogLevel  string `envconfig:"ZD_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"ZD_LOG_FORMAT" default:"text"`
	Env       string `envconfig:"ZD_ENV" default:"development"`
	Version   string `envconfig:"ZD_VERSION" default:"dev"`
}

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

// Load reads .env (when present) and the environment, then validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems together.
func (c Config) Validate() error {
	v := NewValidator()

	v.ValidatePort("PORT", c.Port)
	v.ValidateRequired("UPLOAD_DIR", c.UploadDir)

	if c.MaxUploadBytes <= 0 {
		v.AddError("ZD_MAX_UPLOAD_BYTES", "must be a positive integer")
	}

	v.ValidateEnum("ZD_STORAGE_BACKEND", c.StorageBackend, []string{BackendLocal, BackendMinio})
	if c.StorageBackend == BackendMinio {
		v.ValidateRequired("ZD_S3_ENDPOINT", c.S3Endpoint)
		v.ValidateRequired("ZD_S3_ACCESS_KEY", c.S3AccessKey)
		v.ValidateRequired("ZD_S3_SECRET_KEY", c.S3SecretKey)
		v.ValidateRequired("ZD_BUCKET", c.Bucket)
	}

	if c.DatabaseURL != "" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	v.ValidatePositiveDuration("ZD_READ_TIMEOUT", c.ReadTimeout)
	v.ValidatePositiveDuration("ZD_WRITE_TIMEOUT", c.WriteTimeout)
	v.ValidatePositiveDuration("ZD_IDLE_TIMEOUT", c.IdleTimeout)
	v.ValidatePositiveDuration("ZD_STAGING_MAX_AGE", c.StagingMaxAge)
	v.ValidatePositiveDuration("ZD_SWEEP_INTERVAL", c.SweepInterval)

	if c.UploadRateLimit < 0 {
		v.AddError("ZD_UPLOAD_RATE_LIMIT", "must not be negative")
	}
	if c.UploadRateLimit > 0 && c.UploadRateBurst <= 0 {
		v.AddError("ZD_UPLOAD_RATE_BURST", "must be a positive integer when rate limiting is enabled")
	}

	v.ValidateEnum("ZD_LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum("ZD_LOG_FORMAT", c.LogFormat, []string{"json", "text"})
	v.ValidateEnum("ZD_ENV", c.Env, []string{"development", "production", "staging"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator accumulates configuration errors.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidateRequired records an error when value is empty.
func (v *Validator) ValidateRequired(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required environment variable not set")
	}
}

// ValidatePort validates that a value is a valid port number.
func (v *Validator) ValidatePort(key, value string) {
	portStr := strings.TrimPrefix(value, ":")

	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}

	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *Validator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if strings.EqualFold(value, opt) {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidatePositiveDuration rejects zero and negative durations.
func (v *Validator) ValidatePositiveDuration(key string, d time.Duration) {
	if d <= 0 {
		v.AddError(key, "must be a positive duration (e.g. 30s, 5m)")
	}
}
