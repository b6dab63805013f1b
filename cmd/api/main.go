// Package main is the entrypoint for the PneumoScan API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	"github.com/pneumoscan/pneumoscan/internal/auth"
	"github.com/pneumoscan/pneumoscan/internal/cache"
	"github.com/pneumoscan/pneumoscan/internal/config"
	"github.com/pneumoscan/pneumoscan/internal/filex"
	"github.com/pneumoscan/pneumoscan/internal/handler"
	"github.com/pneumoscan/pneumoscan/internal/imaging"
	"github.com/pneumoscan/pneumoscan/internal/inference"
	"github.com/pneumoscan/pneumoscan/internal/metrics"
	"github.com/pneumoscan/pneumoscan/internal/middleware"
	"github.com/pneumoscan/pneumoscan/internal/repository"
	"github.com/pneumoscan/pneumoscan/internal/server"
	"github.com/pneumoscan/pneumoscan/internal/service"
	"github.com/pneumoscan/pneumoscan/internal/storage"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tempDir, err := filex.EnsureDir(cfg.TempDir)
	if err != nil {
		return fmt.Errorf("prepare temp dir: %w", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	store, err := openStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	statsCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return err
	}

	// Background JWKS refresh stops when jwksCtx is cancelled.
	jwksCtx, stopJWKS := context.WithCancel(ctx)
	jwks, err := keyfunc.NewDefaultCtx(jwksCtx, []string{auth.CognitoJWKSURL(cfg.AWSRegion, cfg.CognitoUserPoolID)})
	if err != nil {
		stopJWKS()
		closeAll(store, statsCache)
		return fmt.Errorf("create JWKS client: %w", err)
	}

	issuer, err := newIssuer(cfg, logger)
	if err != nil {
		stopJWKS()
		closeAll(store, statsCache)
		return err
	}

	recorder := metrics.NewInMemory()
	verifier := auth.NewVerifier(
		auth.NewKeySet(jwks, issuer),
		[]string{auth.CognitoIssuer(cfg.AWSRegion, cfg.CognitoUserPoolID), issuer.Issuer()},
		logger,
		auth.WithNamespace(issuer.Issuer(), auth.LocalNamespace),
	)

	// A nil *cache.Cache must not become a non-nil interface value.
	var statsBackend service.StatsCache
	readyChecks := map[string]handler.HealthChecker{"store": store, "redis": nil}
	if statsCache != nil {
		statsBackend = statsCache
		readyChecks["redis"] = statsCache
	}

	statsService := service.NewStatsService(store, statsBackend, cfg.StatsCacheTTL, recorder, logger)
	predictionService := service.NewPredictionService(
		imaging.NewNormalizer(cfg.NormalizerExpandGrayscale),
		inference.NewGateway(sagemakerruntime.NewFromConfig(awsCfg), cfg.SageMakerEndpointName, logger),
		storage.NewUploader(newS3Client(awsCfg, cfg), cfg.S3BucketName, cfg.AWSRegion, logger),
		store,
		statsService,
		recorder,
		logger,
	)
	accountService := service.NewAccountService(store, issuer, logger)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	corsCfg.AllowCredentials = true

	router := handler.NewRouter(handler.RouterConfig{
		Logger:        logger,
		IsDevelopment: cfg.IsDevelopment(),
		MaxUploadSize: cfg.MaxUploadSize,
		Verifier:      verifier,
		Recorder:      recorder,
		RateLimit:     rateLimitConfig(cfg, statsCache, recorder, logger),
		CORS:          corsCfg,
		Predictions:   handler.NewPredictionHandler(predictionService, tempDir, cfg.MaxUploadSize, logger),
		Accounts:      handler.NewAccountHandler(accountService, logger),
		Stats:         handler.NewStatsHandler(statsService, logger),
		Health:        handler.NewHealthHandler(readyChecks),
		Metrics:       handler.NewMetricsHandler(recorder),
	})

	srv := server.New(router, server.Options{
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// LIFO: the JWKS refresher stops first, the store closes last.
	srv.OnShutdown("store", func(context.Context) error {
		store.Close()
		return nil
	})
	if statsCache != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return statsCache.Close()
		})
	}
	srv.OnShutdown("jwks", func(context.Context) error {
		stopJWKS()
		return nil
	})

	logger.Info("starting server",
		"port", cfg.Port,
		"env", cfg.AppEnv,
		"store", cfg.StoreBackend,
		"redis", statsCache != nil,
		"endpoint", cfg.SageMakerEndpointName,
		"bucket", cfg.S3BucketName,
	)

	return srv.Run(ctx)
}

// loadAWSConfig resolves credentials through the default chain unless static
// keys are configured for a local emulator.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSStaticAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSStaticAccessKey,
			cfg.AWSStaticSecretKey,
			"",
		)))
	}
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWSEndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func newS3Client(awsCfg aws.Config, cfg *config.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Emulators serve buckets by path, not by virtual host.
		o.UsePathStyle = cfg.AWSEndpointURL != ""
	})
}

// openStore connects the configured prediction and user store.
func openStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := repository.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			return nil, fmt.Errorf("connect to database: %s", sanitizeError(err, cfg.DatabaseURL))
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("connected to database", "backend", cfg.StoreBackend)
		return pg, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemory(), nil

	default:
		store := repository.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.DynamoUsersTable, cfg.DynamoPredictionsTable, logger)
		logger.Info("using DynamoDB store",
			"users_table", cfg.DynamoUsersTable,
			"predictions_table", cfg.DynamoPredictionsTable,
		)
		return store, nil
	}
}

// openCache connects Redis when configured. It returns nil, nil otherwise.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Cache, error) {
	if cfg.RedisURL == "" {
		logger.Info("redis not configured; stats cache and rate limits disabled")
		return nil, nil
	}

	c, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return nil, fmt.Errorf("connect to Redis: %s", sanitizeError(err, cfg.RedisURL))
	}
	logger.Info("connected to Redis")
	return c, nil
}

// newIssuer loads the local signing key, or generates an ephemeral one whose
// tokens stop verifying after a restart.
func newIssuer(cfg *config.Config, logger *slog.Logger) (*auth.Issuer, error) {
	if cfg.TokenSigningKeyFile != "" {
		key, err := auth.LoadKeyFile(cfg.TokenSigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		return auth.NewIssuer(key, cfg.TokenIssuer, cfg.TokenTTL)
	}

	if cfg.IsProduction() {
		logger.Warn("TOKEN_SIGNING_KEY_FILE not set; generating an ephemeral signing key")
	}
	key, err := auth.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return auth.NewIssuer(key, cfg.TokenIssuer, cfg.TokenTTL)
}

func rateLimitConfig(cfg *config.Config, c *cache.Cache, recorder metrics.Recorder, logger *slog.Logger) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Logger:          logger,
		Cache:           c,
		Recorder:        recorder,
		UploadEnabled:   cfg.UploadRateLimitEnabled,
		UploadPerMinute: cfg.UploadRateLimitPerMinute,
		UploadBurst:     cfg.UploadRateLimitBurst,
		AuthEnabled:     cfg.AuthRateLimitEnabled,
		AuthPerMinute:   cfg.AuthRateLimitPerMinute,
		AuthBurst:       cfg.AuthRateLimitBurst,
	}
}

func closeAll(store repository.Store, c *cache.Cache) {
	if c != nil {
		_ = c.Close()
	}
	store.Close()
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
