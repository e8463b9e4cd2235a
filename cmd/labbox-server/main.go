package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/labbox/labbox/internal/config"
	"github.com/labbox/labbox/internal/domain/order"
	"github.com/labbox/labbox/internal/domain/prescription"
	"github.com/labbox/labbox/internal/platform/auth"
	"github.com/labbox/labbox/internal/platform/blobstore"
	"github.com/labbox/labbox/internal/platform/cache"
	"github.com/labbox/labbox/internal/platform/db"
	"github.com/labbox/labbox/internal/platform/middleware"
	"github.com/labbox/labbox/internal/platform/notification"
	"github.com/labbox/labbox/internal/platform/reporting"
	"github.com/labbox/labbox/internal/platform/sandbox"
	"github.com/labbox/labbox/internal/platform/telemetry"
	"github.com/labbox/labbox/pkg/validate"
)

const version = "0.1.0"

const uploadsPrefix = "/uploads"

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "labbox-server",
		Short: "Lab test booking and order lifecycle API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).WithLogger(newLogger(cfg)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load development fixture data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed a production database")
			}

			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.UserCount, _ = cmd.Flags().GetInt("users")
			seedCfg.OrdersPerUser, _ = cmd.Flags().GetInt("orders-per-user")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := sandbox.NewSeeder(seedCfg, newLogger(cfg)).Load(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d users, %d orders, %d cart rows.\n", res.Users, res.Orders, res.Carts)
			return nil
		},
	}
	def := sandbox.DefaultSeedConfig()
	cmd.Flags().Int("users", def.UserCount, "Number of patients to create")
	cmd.Flags().Int("orders-per-user", def.OrdersPerUser, "Orders placed by each patient")
	cmd.Flags().Int64("seed", def.Seed, "Random seed")
	return cmd
}

// newLogger builds the root logger. Development gets console output.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// newPushSender selects the push sink named by NOTIFY_DRIVER. The returned
// closer releases driver resources and is never nil.
func newPushSender(cfg *config.Config, logger zerolog.Logger) (notification.PushSender, func() error) {
	switch cfg.NotifyDriver {
	case "fcm":
		return notification.NewFCMSender(cfg.FCMURL, cfg.FCMServerKey, &http.Client{Timeout: 10 * time.Second}), func() error { return nil }
	case "kafka":
		s := notification.NewKafkaSender(notification.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaPushTopic))
		return s, s.Close
	default:
		return notification.NewLogSender(logger), func() error { return nil }
	}
}

// newCache connects to Redis when REDIS_URL is set. An unreachable Redis
// disables caching rather than failing startup.
func newCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Cache, func() error) {
	nop := func() error { return nil }
	if cfg.RedisURL == "" {
		return cache.NopCache{}, nop
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, detail cache disabled")
		return cache.NopCache{}, nop
	}
	logger.Info().Msg("connected to redis")
	return cache.NewRedisCache(client, cfg.CacheTTL, "labbox:"), client.Close
}

// authMiddleware picks bearer validation according to the resolved auth mode.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware()
	case "external":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSigningKey),
		})
	}
}

// newEcho builds the server with the global middleware chain.
func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger, !cfg.IsProduction())

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware(otel.GetTracerProvider()))
	e.Use(middleware.SecurityHeaders(uploadsPrefix))
	e.Use(middleware.RequestTimeout(30*time.Second, uploadsPrefix))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()

	// Error reporting
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     "labbox@" + version,
		}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Tracing
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	detailCache, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	sender, closeSender := newPushSender(cfg, logger)
	defer closeSender()
	notifier := notification.NewManager(sender, notification.NewTemplateEngine(), &logger)
	logger.Info().Str("driver", sender.Name()).Msg("push notifications configured")

	blobs, err := blobstore.NewLocalBlobStore(cfg.ReportsDir, cfg.ReportsBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare report storage")
	}

	// Domain
	orderRepo := order.NewOrderRepoPG(pool)
	engine := order.NewEngine(orderRepo, order.NewHistoryRepoPG(pool), pool, notifier, detailCache, logger)
	projector := order.NewProjector(orderRepo, order.NewProjectionRepoPG(pool), detailCache, loc)
	orderHandler := order.NewHandler(engine, projector, blobs)
	rxHandler := prescription.NewHandler(prescription.NewService(prescription.NewRepoPG(pool), orderRepo, logger))
	reportHandler := reporting.NewHandler(reporting.NewPGStore(pool), loc)
	notifyHandler := notification.NewHandler(notifier)

	// HTTP
	e := newEcho(cfg, logger)
	e.GET("/health", db.LivenessHandler(version))
	e.GET("/health/db", db.HealthHandler(pool))
	e.Static(uploadsPrefix, blobs.Dir())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	authMw := authMiddleware(cfg)
	limit := middleware.RateLimit(rateLimitCfg)

	admin := e.Group("/admin", authMw, limit)
	flabo := e.Group("/flabo", authMw, limit)
	api := e.Group("/api", authMw, limit)

	orderHandler.RegisterRoutes(admin, flabo, api)
	rxHandler.RegisterRoutes(api)
	reportHandler.RegisterRoutes(admin)
	notifyHandler.RegisterRoutes(admin.Group("", auth.RequireRole(auth.RoleAdmin)))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
