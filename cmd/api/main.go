package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"babylog/backend/internal/config"
	"babylog/backend/internal/db"
	"babylog/backend/internal/logging"
	"babylog/backend/internal/metrics"
	"babylog/backend/internal/server"
)

func main() {
	cfg := config.Load()
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.Fatalf("invalid logging config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}

	ctx := context.Background()
	if cfg.DBRunMigrations {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := db.Migrate(migrateCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logrus.Fatalf("database migration failed: %v", err)
		}
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	if err := server.ValidateRuntimeSchema(ctx, pool); err != nil {
		logrus.Fatalf("database schema mismatch: %v", err)
	}

	var provider *metrics.Provider
	if cfg.MetricsEnabled {
		provider, err = metrics.New()
		if err != nil {
			logrus.Fatalf("metrics setup failed: %v", err)
		}
	}

	app := server.New(cfg, pool, provider)
	httpServer := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":     cfg.AppPort,
			"timezone": cfg.AppTimezone,
			"metrics":  cfg.MetricsEnabled,
		}).Info("babylog api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("graceful shutdown failed")
	}
}
