/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Open the SQLite store and build leave.Service / leave.Reporter
  4. Optionally seed departments and the HR approver
  5. Connect optional MinIO (proof uploads) and Redis (idempotency keys)
  6. Configure HTTP router, start the annual reset scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: search ./config.yaml)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database
  -seed    Create default departments and the HR account on startup
  -issue-token <email>
           Print a bearer token for an existing account and exit. This is
           how the seeded HR account (hr@company.com) gets its first token.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reset scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close Redis and database connections
  5. Exit

ENVIRONMENT:
  Every config key can be set as LEAVE_<SECTION>_<KEY>, for example
  LEAVE_AUTH_JWT_SECRET or LEAVE_REDIS_ADDR. A .env file is read first.

EXAMPLES:
  # Run with file database and seed data
  LEAVE_AUTH_JWT_SECRET=dev ./server -db="./data/leave.db" -seed

  # Run with in-memory database on a different port
  LEAVE_AUTH_JWT_SECRET=dev ./server -db=":memory:" -port=3000

  # Token for the seeded approver
  LEAVE_AUTH_JWT_SECRET=dev ./server -db="./data/leave.db" -seed -issue-token=hr@company.com

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/proof"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	seed := flag.Bool("seed", false, "Seed default departments and HR account")
	issueFor := flag.String("issue-token", "", "Print a token for the account with this email and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, *seed, *issueFor, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, seed bool, issueFor string, logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set LEAVE_AUTH_JWT_SECRET)")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path,
		sqlite.WithBusyTimeout(cfg.Database.BusyTimeout),
		sqlite.WithLogger(logger.Named("store")))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc := leave.NewService(store,
		leave.WithLogger(logger.Named("leave")),
		leave.WithInitialBalance(cfg.Leave.InitialBalance))
	reporter := leave.NewReporter(store, loc)

	ctx := context.Background()
	if seed {
		created, err := svc.Seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
		logger.Info("seed complete", zap.Int("created", created))
	}

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if issueFor != "" {
		token, err := issueToken(ctx, svc, auth, issueFor, api.DefaultTokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	// Initialize handler
	handler := api.NewHandler(svc, reporter, auth, logger.Named("api"))
	handler.MaxUploadBytes = cfg.MinIO.MaxUploadBytes

	if cfg.MinIO.Endpoint != "" {
		uploader, err := proof.NewMinioStore(proof.Config{
			Endpoint:      cfg.MinIO.Endpoint,
			AccessKey:     cfg.MinIO.AccessKey,
			SecretKey:     cfg.MinIO.SecretKey,
			Bucket:        cfg.MinIO.Bucket,
			UseSSL:        cfg.MinIO.UseSSL,
			PublicBaseURL: cfg.MinIO.PublicBaseURL,
			MaxBytes:      cfg.MinIO.MaxUploadBytes,
		}, logger.Named("proof"))
		if err != nil {
			return fmt.Errorf("failed to initialize object store: %w", err)
		}
		if err := uploader.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare bucket: %w", err)
		}
		handler.Uploader = uploader
	} else {
		logger.Info("minio not configured, proof uploads disabled")
	}

	opts := api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Named("http"),
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		opts.RateLimiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts.Idempotency = api.NewIdempotency(rdb, cfg.Redis.IdempotencyTTL, logger.Named("idempotency"))
	} else {
		logger.Info("redis not configured, idempotency keys disabled")
	}

	router := api.NewRouter(handler, opts)

	scheduler := api.NewResetScheduler(svc, logger.Named("scheduler"))
	scheduler.Enabled = cfg.Scheduler.AnnualResetEnabled
	scheduler.CheckInterval = cfg.Scheduler.CheckInterval
	scheduler.Value = cfg.Leave.InitialBalance
	scheduler.Location = loc
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// issueToken mints a bearer token for the account registered under email.
func issueToken(ctx context.Context, svc *leave.Service, auth *api.Authenticator, email string, ttl time.Duration) (string, error) {
	emp, err := svc.EmployeeByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to find account %q: %w", email, err)
	}
	return auth.Issue(leave.Actor{ID: emp.ID, Role: emp.Role, DepartmentID: emp.DepartmentID}, ttl)
}

// newLogger builds a JSON production logger, or a console one when
// log.format is "console".
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
