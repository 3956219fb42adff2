package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/auth"
	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/events"
	httpapi "github.com/example/roadside-dispatch/internal/http"
	"github.com/example/roadside-dispatch/internal/idgen"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/matcher"
	"github.com/example/roadside-dispatch/internal/ratelimit"
	"github.com/example/roadside-dispatch/internal/roster"
	"github.com/example/roadside-dispatch/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store   storage.AssignmentStore
		drivers roster.Directory
		ready   func(context.Context) error
	)
	if cfg.PGDSN != "" {
		db, err := storage.Open(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.RunMigrations {
			applied, err := storage.Migrate(ctx, db)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = storage.NewPostgresStore(db)
		drivers = roster.NewPostgresDirectory(db, logging.Component(logger, "roster"))
		ready = pinger(db)
	} else {
		logger.Warn("PG_DSN not set, using in-memory stores")
		store = storage.NewMemoryStore()
		drivers = roster.NewMemoryDirectory()
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		limiter = ratelimit.NewRedisLimiter(rc, cfg.RateLimitRequests, cfg.RateLimitWindow)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	dashboard := dispatch.NewWSRegistry(logging.Component(logger, "dashboard"))
	outbound := dispatch.Multi{&dispatch.LogNotifier{Logger: logging.Component(logger, "notify")}}
	switch {
	case len(cfg.KafkaBrokers) > 0:
		kn := events.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaNotifyTopic)
		defer kn.Close()
		outbound = append(outbound, kn)
	case cfg.NotifyEndpoint != "":
		outbound = append(outbound, dispatch.NewHTTPDispatcher(cfg.NotifyEndpoint, cfg.NotifyAPIKey))
	default:
		logger.Warn("no KAFKA_BROKERS or NOTIFY_ENDPOINT, notifications are only logged")
	}
	notifier := &dispatch.Router{
		Routes:   map[dispatch.Channel]dispatch.Notifier{dispatch.ChannelDashboard: dashboard},
		Fallback: outbound,
	}

	lc := lifecycle.New(store, drivers, idgen.New(), notifier, logger, lifecycle.Options{
		OperatorEmail:  cfg.OperatorEmail,
		MaxIVRAttempts: cfg.IVRMaxAttempts,
	})
	ranker := &matcher.Service{
		Active:          store,
		Logger:          logging.Component(logger, "matcher"),
		DefaultRadiusKm: cfg.RankingRadiusKm,
		Concurrency:     cfg.RankingConcurrency,
		Location:        cfg.Location(),
	}
	sessions := auth.NewSessions(cfg.AdminSecret, cfg.JWTSecret, cfg.AdminSessionTTL)
	if !sessions.Enabled() {
		logger.Warn("ADMIN_SECRET not set, admin routes are unauthenticated")
	}

	api := httpapi.NewServer(httpapi.Deps{
		Lifecycle:     lc,
		Drivers:       drivers,
		Ranker:        ranker,
		Sessions:      sessions,
		Limiter:       limiter,
		Dashboard:     dashboard,
		Logger:        logger,
		CallerID:      cfg.TelephonyCallerID,
		PublicBaseURL: cfg.PublicBaseURL,
		TrustProxy:    cfg.TrustProxy,
		Ready:         ready,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("roadside-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pinger(db *sqlx.DB) func(context.Context) error {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}
