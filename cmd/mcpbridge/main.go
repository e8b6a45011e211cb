package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/mcpbridge/internal/bridge"
	"github.com/gosuda/mcpbridge/internal/config"
	"github.com/gosuda/mcpbridge/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("MCPBRIDGE_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("MCPBRIDGE_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Spawn one bridge per configured server. A spawn failure aborts
	// startup; a crash after startup only marks that bridge as exited.
	registry := bridge.NewRegistry()
	for _, sc := range cfg.Servers {
		spec := bridge.Spec{
			Name:    sc.Name,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Dir:     sc.Dir,
		}
		b := bridge.New(spec.Name, func(_ context.Context) (bridge.Process, error) {
			return bridge.Spawn(spec, cfg.Bridge.TerminateGrace)
		}, cfg.Bridge.RequestTimeout)

		if err := b.Start(ctx); err != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Bridge.TerminateGrace)
			closeErr := registry.CloseAll(shutdownCtx)
			shutdownCancel()
			if closeErr != nil {
				log.Error().Err(closeErr).Msg("cleanup after failed startup")
			}
			return err
		}
		registry.Register(spec.Name, b)
	}

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, registry)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Strs("servers", registry.Available()).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("http shutdown")
	}

	// Terminate every child exactly once.
	if closeErr := registry.CloseAll(shutdownCtx); closeErr != nil {
		return closeErr
	}

	log.Info().Msg("stopped")
	return nil
}
