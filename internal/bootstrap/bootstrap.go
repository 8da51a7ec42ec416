package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appControllers "github.com/ieppc/matricula/internal/app/controllers"
	appMigrations "github.com/ieppc/matricula/internal/app/migrations"
	appRepos "github.com/ieppc/matricula/internal/app/repositories"
	appRoutes "github.com/ieppc/matricula/internal/app/routes"
	appServices "github.com/ieppc/matricula/internal/app/services"
	"github.com/ieppc/matricula/internal/config"
	"github.com/ieppc/matricula/internal/db"
	appMiddleware "github.com/ieppc/matricula/internal/middleware"
	pkgAuth "github.com/ieppc/matricula/internal/pkg/auth"
	"github.com/ieppc/matricula/internal/pkg/email"
	"github.com/ieppc/matricula/internal/pkg/helpers"
	"github.com/ieppc/matricula/internal/pkg/logger"
	"github.com/ieppc/matricula/internal/pkg/metrics"
	"github.com/ieppc/matricula/internal/pkg/verification"
	"github.com/ieppc/matricula/internal/queue"
	"github.com/redis/go-redis/v9"
)

// Dependencies holds all the application dependencies
type Dependencies struct {
	RegistrationService    appServices.RegistrationService
	BulkImportService      appServices.BulkImportService
	RegistrationController *appControllers.RegistrationController
	AdminStudentController *appControllers.AdminStudentController
	AuthMiddleware         *appMiddleware.AuthMiddleware
	Repos                  *appRepos.Repositories
	JWTService             *pkgAuth.JWTService
	Metrics                *metrics.Metrics
	Events                 queue.Publisher
	Redis                  *redis.Client // nil unless rate limiting is on
	Settings               config.RegistrationSettings
	Logger                 zerolog.Logger
}

// Close releases the broker connection and the Redis client
func (d *Dependencies) Close() error {
	var errs []error
	if closer, ok := d.Events.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}

// ConfigPath returns the configuration file location, overridable with CONFIG_PATH
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join("configs", "config.yaml")
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(ConfigPath())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.LogLevel(strings.ToLower(cfg.Logging.Level))
	prettyLog := strings.ToLower(cfg.Logging.Format) == "text"

	logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: prettyLog,
	})

	lgr := log.Logger
	lgr.Info().
		Str("logLevel", string(logLevel)).
		Str("logFormat", cfg.Logging.Format).
		Strs("envOverrides", config.EnvOverrides(cfg)).
		Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupDatabase establishes the database connection and runs migrations.
func SetupDatabase(cfg *config.Config, lgr zerolog.Logger) (*db.PostgresDB, error) {
	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(cfg)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	lgr.Info().Msg("Database connection successfully established.")

	migrationsDir := cfg.Database.MigrationsPath
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		database.Close()
		lgr.Error().Str("path", migrationsDir).Msg("Migrations directory not found")
		return nil, fmt.Errorf("migrations directory not found at %s: %w", migrationsDir, err)
	}

	lgr.Info().Str("path", migrationsDir).Msg("Running database migrations...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	migrator := appMigrations.NewMigrator(database.Pool, logger.Component("migrator"))
	if err := migrator.MigrateFromDirectory(ctx, migrationsDir); err != nil {
		database.Close()
		lgr.Error().Err(err).Msg("Database migration error")
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Msg("Database migrations successfully applied.")

	return database, nil
}

// setupEvents connects to RabbitMQ when enabled. An unreachable broker at
// start-up degrades to the no-op publisher instead of blocking the API.
func setupEvents(cfg *config.Config, lgr zerolog.Logger) queue.Publisher {
	if !cfg.RabbitMQ.Enabled {
		lgr.Info().Msg("Event publishing disabled")
		return queue.NoopPublisher{}
	}
	publisher, err := queue.NewAMQPPublisher(queue.AMQPConfig{
		URL:            cfg.RabbitMQ.URL,
		Exchange:       cfg.RabbitMQ.Exchange,
		PublishTimeout: cfg.Duration(cfg.RabbitMQ.PublishTimeout),
	}, logger.Component("events"))
	if err != nil {
		lgr.Error().Err(err).Msg("RabbitMQ unavailable, events will not be published")
		return queue.NoopPublisher{}
	}
	lgr.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("Event publishing enabled")
	return publisher
}

// setupRateLimit returns the public route limiter, or nil when disabled
func setupRateLimit(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) gin.HandlerFunc {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if !cfg.Redis.Enabled {
		lgr.Warn().Msg("Rate limiting requires Redis, public routes are not limited")
		return nil
	}

	deps.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := deps.Redis.Ping(ctx).Err(); err != nil {
		// The limiter fails open, so keep going and let Redis come back
		lgr.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis ping failed")
	}

	limiter := appMiddleware.NewRedisTokenBucket(deps.Redis, appMiddleware.RateLimitSettings{
		Capacity:       cfg.RateLimit.Capacity,
		RefillTokens:   cfg.RateLimit.RefillTokens,
		RefillInterval: cfg.Duration(cfg.RateLimit.RefillInterval),
		TTL:            cfg.Duration(cfg.RateLimit.TTL),
		Prefix:         cfg.RateLimit.Prefix,
	})
	lgr.Info().Int("capacity", cfg.RateLimit.Capacity).Msg("Rate limiting enabled for public routes")
	return appMiddleware.RateLimit(limiter, cfg.RateLimit.Capacity)
}

// BuildDependencies initializes application repositories, services, and controllers.
func BuildDependencies(cfg *config.Config, database *db.PostgresDB, lgr zerolog.Logger) (*Dependencies, error) {
	settings := cfg.RegistrationSettings()
	deps := &Dependencies{Logger: lgr, Settings: settings}

	deps.Repos = appRepos.NewRepositories(database.Pool)
	deps.Metrics = metrics.New()
	deps.Events = setupEvents(cfg, lgr)

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: cfg.Duration(cfg.JWT.AccessTokenExpiration),
		TokenIssuer:    cfg.JWT.Issuer,
	})

	clock := helpers.SystemClock{}
	mailer := email.NewEmailService(email.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromName:  cfg.SMTP.FromName,
		FromEmail: cfg.SMTP.FromEmail,
		UseTLS:    cfg.SMTP.UseTLS,
		CodeTTL:   settings.VerificationCodeTTL,
		Timeout:   cfg.Duration(cfg.SMTP.Timeout),
	}, logger.Component("email"))

	deps.RegistrationService = appServices.NewRegistrationService(appServices.RegistrationDeps{
		Store:   deps.Repos.StudentAccountRepository,
		Hasher:  pkgAuth.NewBcryptHasher(settings.BcryptCost),
		Issuer:  verification.NewIssuer(clock, settings.VerificationCodeTTL),
		Mailer:  mailer,
		Clock:   clock,
		Events:  deps.Events,
		Metrics: deps.Metrics,
		Logger:  logger.Component("registration"),
		Settings: appServices.RegistrationSettings{
			StubTTL:            settings.StubTTL,
			ExpiringSoonWindow: settings.ExpiringSoonWindow,
			RecentWindow:       settings.RecentWindow,
		},
	})
	deps.BulkImportService = appServices.NewBulkImportService(appServices.BulkImportDeps{
		Store:   deps.Repos.StudentAccountRepository,
		Clock:   clock,
		Events:  deps.Events,
		Metrics: deps.Metrics,
		Logger:  logger.Component("bulk_import"),
		StubTTL: settings.StubTTL,
		MaxRows: settings.MaxImportRows,
	})

	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)

	deps.RegistrationController = appControllers.NewRegistrationController(deps.RegistrationService)
	deps.AdminStudentController = appControllers.NewAdminStudentController(
		deps.RegistrationService,
		deps.BulkImportService,
		settings.MaxUploadBytes,
	)

	return deps, nil
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, database *db.PostgresDB, lgr zerolog.Logger) *gin.Engine {
	if strings.ToLower(cfg.Server.Mode) == "production" {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	appMiddleware.RegisterJSONFieldNames()

	router := gin.New()
	router.Use(
		gin.Recovery(),
		appMiddleware.RequestID(),
		appMiddleware.RequestLogger(logger.Component("http")),
		deps.Metrics.Middleware(),
	)

	var health appRoutes.HealthCheck
	if database != nil {
		health = database.Ping
	}

	appRoutes.SetupRouter(router,
		deps.RegistrationController,
		deps.AdminStudentController,
		deps.AuthMiddleware,
		setupRateLimit(cfg, deps, lgr),
		health,
	)

	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	// Test endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "status": "success"})
	})

	return router
}
