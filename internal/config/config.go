// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends.
const (
	StoreDynamo   = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   int    `env:"PORT" envDefault:"5000"`

	// AWS
	AWSRegion             string `env:"AWS_REGION,required"`
	S3BucketName          string `env:"S3_BUCKET_NAME,required"`
	SageMakerEndpointName string `env:"SAGEMAKER_ENDPOINT_NAME,required"`
	CognitoUserPoolID     string `env:"COGNITO_USER_POOL_ID,required"`

	// Local emulator overrides (LocalStack and friends)
	AWSEndpointURL     string `env:"AWS_ENDPOINT_URL" envDefault:""`
	AWSStaticAccessKey string `env:"AWS_STATIC_ACCESS_KEY_ID" envDefault:""`
	AWSStaticSecretKey string `env:"AWS_STATIC_SECRET_ACCESS_KEY" envDefault:""`

	// Prediction and user storage
	StoreBackend           string `env:"STORE_BACKEND" envDefault:"dynamodb"`
	DynamoUsersTable       string `env:"DYNAMO_USERS_TABLE" envDefault:"Users"`
	DynamoPredictionsTable string `env:"DYNAMO_PREDICTIONS_TABLE" envDefault:"Predictions"`
	DatabaseURL            string `env:"DATABASE_URL" envDefault:""`

	// Cache (Redis); optional, enables the stats cache and rate limits
	RedisURL string `env:"REDIS_URL" envDefault:""`

	// Uploads
	TempDir                   string `env:"TEMP_DIR" envDefault:""`
	MaxUploadSize             int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
	NormalizerExpandGrayscale bool   `env:"NORMALIZER_EXPAND_GRAYSCALE" envDefault:"false"`

	// Local accounts
	TokenIssuer         string        `env:"TOKEN_ISSUER" envDefault:"pneumoscan"`
	TokenTTL            time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	TokenSigningKeyFile string        `env:"TOKEN_SIGNING_KEY_FILE" envDefault:""`

	// Statistics
	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL" envDefault:"60s"`

	// Rate limiting
	UploadRateLimitEnabled   bool `env:"UPLOAD_RATE_LIMIT_ENABLED" envDefault:"true"`
	UploadRateLimitPerMinute int  `env:"UPLOAD_RATE_LIMIT_PER_MINUTE" envDefault:"10"`
	UploadRateLimitBurst     int  `env:"UPLOAD_RATE_LIMIT_BURST" envDefault:"5"`
	AuthRateLimitEnabled     bool `env:"AUTH_RATE_LIMIT_ENABLED" envDefault:"true"`
	AuthRateLimitPerMinute   int  `env:"AUTH_RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	AuthRateLimitBurst       int  `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins; "https://*.cloudfront.net" matches any subdomain
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate enforces rules that span several fields.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreDynamo, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of %s, %s, %s; got %q",
			StoreDynamo, StorePostgres, StoreMemory, c.StoreBackend))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.UploadRateLimitEnabled && (c.UploadRateLimitPerMinute <= 0 || c.UploadRateLimitBurst <= 0) {
		errs = append(errs, errors.New("UPLOAD_RATE_LIMIT_PER_MINUTE and UPLOAD_RATE_LIMIT_BURST must be positive"))
	}
	if c.AuthRateLimitEnabled && (c.AuthRateLimitPerMinute <= 0 || c.AuthRateLimitBurst <= 0) {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT_PER_MINUTE and AUTH_RATE_LIMIT_BURST must be positive"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "pneumoscan")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
