package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drainwatch/internal/config"
	"drainwatch/internal/logger"
	"drainwatch/internal/server"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg)

	go func() {
		if err := srv.Run(ctx); err != nil {
			log := logger.WithError(err)
			log.Error().Msg("server exited")
			cancel()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		logger.Logger.Info().Msg("shutting down")
		cancel()
	case <-ctx.Done():
	}

	// Give graceful shutdown some time.
	time.Sleep(500 * time.Millisecond)
	logger.Logger.Info().Msg("exited")
}
