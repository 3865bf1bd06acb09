// Command server runs the lead relay API: HTTP intake for website lead
// submissions, the queue inspection and operator endpoints, and the
// background batch scheduler that drains pending leads into Zoho CRM.
//
// Startup order: env → config → logging → database → tracing → router →
// scheduler → HTTP server. Shutdown reverses it on SIGINT/SIGTERM with a
// bounded grace period, stopping the scheduler before the listener so an
// in-flight batch run can finish writing lead outcomes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perfect-automation/go-crm-relay/internal/config"
	httpapi "github.com/perfect-automation/go-crm-relay/internal/http"
	"github.com/perfect-automation/go-crm-relay/internal/observability"
	"github.com/perfect-automation/go-crm-relay/internal/repo"
	"github.com/perfect-automation/go-crm-relay/internal/scheduler"
	"github.com/perfect-automation/go-crm-relay/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	// Local development convenience; production supplies real env vars.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	log.Info().
		Str("version", version).
		Str("port", cfg.Port).
		Bool("zoho_configured", cfg.Zoho.Complete()).
		Bool("batch_enabled", cfg.Batch.Enabled).
		Msg("starting lead relay")

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing not enabled")
		}
	}

	engine := gin.New()
	batchSvc := httpapi.RegisterRoutes(engine, db, cfg)

	var wg sync.WaitGroup
	if cfg.Batch.Enabled {
		sched := scheduler.New(batchSvc, cfg.Batch.Interval, cfg.Batch.Limit)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}
	stop()

	// Scheduler loop exits on the cancelled context; wait for it before
	// tearing down the listener and the DB it writes outcomes through.
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info().Msg("lead relay stopped")
}
