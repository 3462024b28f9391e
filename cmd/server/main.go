package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	httpadapter "github.com/lumicall/mediabridge/internal/adapters/http"
	"github.com/lumicall/mediabridge/internal/config"
	"github.com/lumicall/mediabridge/internal/core"
	"github.com/lumicall/mediabridge/internal/media/msoup"
	"github.com/lumicall/mediabridge/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	engine := msoup.NewEngine(cfg.WorkerBin)
	workers := core.NewWorkerManager(engine, core.WorkerManagerOptions{
		MaxWorkers:        cfg.MaxWorkers,
		HealthInterval:    cfg.WorkerHealthInterval,
		IdleThreshold:     cfg.WorkerIdleThreshold,
		MaxRoomsPerWorker: cfg.MaxRoomsPerWorker,
	})
	workers.StartHealthMonitoring()

	rooms := core.NewRoomManager(workers, cfg)
	calls := service.NewCallService(rooms, cfg)
	transports := service.NewTransportService(rooms)
	translations := service.NewTranslationService(rooms, cfg)

	handlers := httpadapter.NewHandlers(calls, transports, translations)
	router := httpadapter.SetupRouter(cfg.Mode, handlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		zlog.Info().Str("module", "main").Str("addr", srv.Addr).Msg("media server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("http server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zlog.Info().Str("module", "main").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown failed")
	}
	rooms.CloseAllRooms()
	workers.Shutdown()
	zlog.Info().Str("module", "main").Msg("shutdown complete")
}
