package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/alert"
	"github.com/dormitricity/orchestrator/internal/api"
	"github.com/dormitricity/orchestrator/internal/archive"
	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/config"
	"github.com/dormitricity/orchestrator/internal/notify"
	"github.com/dormitricity/orchestrator/internal/runner"
	"github.com/dormitricity/orchestrator/internal/scheduler"
	"github.com/dormitricity/orchestrator/internal/storage"
)

func main() {
	// Optional .env for local development; the environment wins.
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}()

	authn := auth.New(cfg.ActionsSecret, cfg.UserJWTSecret, cfg.DormHashKey)
	clock := clockwork.NewRealClock()
	dispatcher := notify.NewDispatcher()
	engine := alert.NewEngine(store, dispatcher, clock, 8)

	var run scheduler.Dispatcher
	if cfg.RunnerEnabled() {
		run = runner.New("", cfg.RunnerOwner, cfg.RunnerRepo, cfg.RunnerWorkflow, cfg.RunnerRef, cfg.RunnerPAT)
		logrus.WithFields(logrus.Fields{
			"owner":    cfg.RunnerOwner,
			"repo":     cfg.RunnerRepo,
			"workflow": cfg.RunnerWorkflow,
		}).Info("Workflow runner enabled")
	} else {
		logrus.Info("Workflow runner not configured, crawlers must poll on their own")
	}

	sched := scheduler.New(store, authn, run, clock,
		cfg.ScheduleInterval, cfg.SliceSize, cfg.ClaimTokenTTL)

	var archiver api.Archiver
	if cfg.ArchiveEnabled() {
		exporter, err := archive.NewExporter(cfg.ArchiveEndpoint,
			cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, store)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize archive exporter")
		}
		archiver = exporter
		logrus.WithField("bucket", cfg.ArchiveBucket).Info("Archive export enabled")
	}

	handler := api.NewHandler(store, authn, engine, dispatcher, sched, archiver, clock, api.Options{
		AdminToken:     cfg.AdminToken,
		MaxSubsPerUser: cfg.MaxSubsPerUser,
		SliceLease:     cfg.SliceLease,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, handler)

	schedCtx, stopSched := context.WithCancel(context.Background())
	go sched.Run(schedCtx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("Starting dormitricity orchestrator")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	stopSched()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}
	logrus.Info("Server exited")
}
