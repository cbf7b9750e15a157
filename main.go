// main.go - wordduel matchmaking and live session server
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wordduel/config"
	"wordduel/database"
	"wordduel/handlers"
	"wordduel/logger"
	"wordduel/middleware"
	"wordduel/realtime"
	"wordduel/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.App.Env)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	if err := database.RunMigrations(db, log); err != nil {
		return err
	}

	notifier, err := newNotifier(cfg, db, log)
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	store := database.NewStore(db, notifier, log)
	matchmaker := services.NewMatchmaker(store, log,
		services.WithMaxAttempts(cfg.Matchmaking.MaxAttempts),
		services.WithRetryDelay(cfg.Matchmaking.RetryDelay),
	)
	watcher := services.NewTeamWatcher(store, notifier, log)
	sessions := services.NewQuizSessionCoordinator(store, notifier, log)
	lobby := services.NewLobbyService(matchmaker, watcher, sessions, cfg.Matchmaking.StartGrace, log)

	cleanup := services.NewCleanupService(store, cfg.Cleanup.Interval, cfg.Cleanup.TeamTTL, cfg.Cleanup.SessionTTL, log)
	if cfg.Cleanup.Enabled {
		cleanup.Start()
		defer cleanup.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:      "wordduel",
		ErrorHandler: handlers.ErrorHandler(cfg.IsProduction()),
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORS.Origins, ","),
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "realtime": cfg.Realtime.Driver})
	})

	auth := middleware.AuthMiddleware(cfg.JWT.Secret)
	h := handlers.NewHandler(store, matchmaker, lobby, sessions, log)

	api := app.Group("/api", auth)
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window))
	}
	h.RegisterAPI(api)
	h.RegisterWebSockets(app.Group("/ws", auth))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("http server starting", "addr", cfg.ServerAddr(), "env", cfg.App.Env,
			"database", cfg.Database.Driver, "realtime", cfg.Realtime.Driver)
		return app.Listen(cfg.ServerAddr())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newNotifier(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) (realtime.Notifier, error) {
	switch cfg.Realtime.Driver {
	case "nats":
		n, err := realtime.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "postgres":
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		n, err := realtime.NewPGNotifier(sqlDB, cfg.Database.DSN(), realtime.DefaultChannelPrefix, log)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return realtime.NewBroker(log), nil
	}
}
