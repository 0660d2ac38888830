package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ubicatec/ubicatec-api/internal/config"
	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/handler"
	"github.com/ubicatec/ubicatec-api/internal/logger"
	"github.com/ubicatec/ubicatec-api/internal/mail"
	"github.com/ubicatec/ubicatec-api/internal/middleware"
	"github.com/ubicatec/ubicatec-api/internal/repository"
	"github.com/ubicatec/ubicatec-api/internal/router"
	"github.com/ubicatec/ubicatec-api/internal/service"
)

const shutdownTimeout = 15 * time.Second

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the ubicaTEC HTTP API until SIGINT or SIGTERM.

On shutdown the server stops accepting requests, finishes in-flight ones
and waits for pending confirmation mails before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply the schema before serving")
}

// newNotifier picks the confirmation channel for NOTIFY_MODE.
func newNotifier(cfg config.Config, log *zap.Logger) service.Notifier {
	switch cfg.NotifyMode {
	case "smtp":
		return mail.NewMailer(cfg.SMTP, log)
	case "queue":
		return service.QueuePublisher{URL: cfg.RabbitURL, Log: log}
	default:
		return service.LogNotifier{Log: log}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Error("database unavailable", zap.Error(err))
		return err
	}
	defer db.Close()
	if migrateOnStart {
		if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
			log.Error("migration failed", zap.Error(err))
			return err
		}
	}

	// Redis is optional; without it rate limiting and caching are off.
	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("redis unavailable, rate limiting and event cache disabled")
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, log)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)

	users := repository.NewUserRepo(db)
	events := repository.NewEventRepo(db)
	reservations := repository.NewReservationRepo(db)
	schools := repository.NewSchoolRepo(db)
	tokens := repository.NewTokenRepo(db)

	dispatcher := service.NewDispatcher(newNotifier(cfg, log), cfg.NotifyTimeout, log)
	svc := service.NewReservationService(
		database.NewGateway(db, cfg.DBAcquireTimeout).WithIsolation(database.IsolationFor(cfg.DBDriver)),
		events, reservations, users,
		dispatcher, cfg.NotifyWait, log,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(logger.RequestLogger(log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORSOrigins}))

	router.Register(e, router.Deps{
		JWTSecret:    cfg.JWTSecret,
		Auth:         handler.NewAuthHandler(cfg, users, tokens, schools, log),
		Profile:      &handler.ProfileHandler{Users: users, BcryptCost: cfg.BcryptCost, Log: log},
		Events:       &handler.EventHandler{Events: events, Log: log},
		Reservations: &handler.ReservationHandler{Svc: svc, Cache: cache, Log: log},
		Admin:        &handler.AdminHandler{Events: events, Schools: schools, Cache: cache, Log: log},
		Limiter:      limiter,
		Cache:        cache,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", ":"+cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("db", cfg.DBDriver),
			zap.String("notify", cfg.NotifyMode))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := e.Shutdown(sctx)
		dispatcher.Wait()
		log.Info("server stopped")
		return err
	})
	return g.Wait()
}
