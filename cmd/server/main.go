package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"clash-intelligence/internal/config"
	"clash-intelligence/internal/constants"
	fxmodules "clash-intelligence/internal/fx"
	applog "clash-intelligence/internal/logger"
	"clash-intelligence/internal/middleware"
	"clash-intelligence/internal/server"
	"clash-intelligence/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	srv *server.Server,
	queue *service.JobQueue,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	applog.SetLevel(logger, cfg.LogLevel)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	requestIDMiddleware := middleware.RequestID(logger)
	handler := requestIDMiddleware(c.Handler(srv.Routes()))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler,
	}

	scheduler := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(cfg.IngestCron, func() {
		if _, err := queue.Enqueue(context.Background(), cfg.HomeClanTag); err != nil {
			logger.Error().Err(err).Str("clan_tag", cfg.HomeClanTag).Msg("scheduled enqueue failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.IngestCron).Msg("invalid ingest cron spec")
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			queue.Start()
			scheduler.Start()
			logger.Info().Str("spec", cfg.IngestCron).Msg("ingestion scheduler started")
			go func() {
				logger.Info().Str("addr", httpSrv.Addr).Msg("server starting")
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			<-scheduler.Stop().Done()
			queue.Stop()

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
