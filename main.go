package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/config"
	"github.com/RohitKrishnan4943/ProctorVision/internal/database"
	"github.com/RohitKrishnan4943/ProctorVision/internal/handlers"
	"github.com/RohitKrishnan4943/ProctorVision/internal/hub"
	logger "github.com/RohitKrishnan4943/ProctorVision/internal/logging"
	"github.com/RohitKrishnan4943/ProctorVision/internal/metrics"
	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"github.com/RohitKrishnan4943/ProctorVision/internal/repository"
	"github.com/RohitKrishnan4943/ProctorVision/internal/router"
	"github.com/RohitKrishnan4943/ProctorVision/internal/services"
	"github.com/RohitKrishnan4943/ProctorVision/internal/signals"
	"github.com/RohitKrishnan4943/ProctorVision/internal/utils"
	"go.uber.org/zap"
)

func main() {
	root := os.Getenv("PROCTOR_ROOT")
	if root == "" {
		root = "."
	}

	// Logging settings come from the config file, so read it once up front.
	boot, _, err := config.Load(root)
	if err != nil {
		panic("failed to read configuration: " + err.Error())
	}
	log, err := logger.Init(boot.Logging)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := config.Init(root, log); err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	conf := config.Conf

	if conf.Server.SessionSecret == "" {
		if conf.Server.Production {
			log.Fatal("server.session_secret must be set in production")
		}
		secret, err := utils.GenerateSecureToken(32)
		if err != nil {
			log.Fatal("Failed to generate session secret", zap.Error(err))
		}
		conf.Server.SessionSecret = secret
		log.Warn("No session secret configured; using an ephemeral one")
	}

	// Initialize Database
	database.Init(log)
	sqlDB, err := database.DB.DB()
	if err != nil {
		log.Fatal("Failed to access database handle", zap.Error(err))
	}
	defer sqlDB.Close()

	m := metrics.New()
	repo := repository.NewSubmissionRepository(database.DB, log)

	src, err := newSignalSource(root, conf.Signals, log)
	if err != nil {
		log.Fatal("Failed to set up signal source", zap.Error(err))
	}
	analyzer := signals.NewAnalyzer(src, conf.Signals.Timeout, log, m)

	engine := proctor.NewEngine(conf.Detection.Policy(), repo, log, proctor.WithObserver(m))
	config.OnChange(func(c *config.Config) {
		engine.SetPolicy(c.Detection.Policy())
		log.Info("Detection policy reloaded", zap.Int("autoSubmitThreshold", c.Detection.AutoSubmitThreshold))
	})
	liveHub := hub.New(log, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeperDone := services.NewScheduler(log, engine, conf.Detection.SweepInterval, conf.Detection.IdleTimeout).Start(ctx)

	r := router.Setup(log, conf.Server, router.Handlers{
		Session:    handlers.NewSessionHandler(log, conf.Server.SessionSecret),
		Monitoring: handlers.NewMonitoringHandler(log, engine, analyzer, repo, liveHub, conf.Server.AllowedOrigins),
		Attempts:   handlers.NewAttemptHandler(log, repo, engine, liveHub),
		Reports:    handlers.NewReportHandler(log, repo),
		Health:     handlers.NewHealthHandler(log, sqlDB),
		Metrics:    m.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + conf.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server listening on http://localhost" + srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	liveHub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	<-sweeperDone
}

func newSignalSource(root string, cfg config.SignalsConfig, log *zap.Logger) (signals.Source, error) {
	switch cfg.Mode {
	case "http":
		src := signals.NewHTTPSource(cfg.DetectorURL, cfg.Timeout, log)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if err := src.Refresh(ctx); err != nil {
			log.Warn("Detector status unavailable at startup", zap.String("url", cfg.DetectorURL), zap.Error(err))
		}
		return src, nil
	case "demo":
		path := cfg.DemoScript
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		log.Warn("Running with scripted demo detectors", zap.String("script", path))
		return signals.LoadScript(path)
	case "none", "":
		return signals.NullSource{}, nil
	default:
		return nil, fmt.Errorf("unknown signals mode %q", cfg.Mode)
	}
}
