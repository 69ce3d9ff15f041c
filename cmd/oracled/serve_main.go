package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratoquery/oracle/internal/httpapi"
)

// runServe starts the oracle HTTP server
func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	configureLogging(cfg.Log)

	log.Info().
		Str("listen", cfg.Server.Listen).
		Str("ledger", cfg.Ledger.Backend).
		Str("method", cfg.Oracle.DefaultMethod).
		Msg("Starting oracle server")

	app, err := buildApp(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer app.close()

	if cfg.Oracle.HealthIntervalMS > 0 {
		app.registry.Start()
	}

	server, err := httpapi.NewServer(httpapi.Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}, app.router, app.metrics, app.hub, log.Logger)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("query", fmt.Sprintf("http://%s/v1/query", server.Addr())).
			Str("providers", fmt.Sprintf("http://%s/v1/providers", server.Addr())).
			Str("health", fmt.Sprintf("http://%s/v1/health", server.Addr())).
			Str("events", fmt.Sprintf("ws://%s/v1/events", server.Addr())).
			Str("metrics", fmt.Sprintf("http://%s/metrics", server.Addr())).
			Msg("Oracle endpoints available")

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown. The deferred app.close drains the audit queue
	// after in-flight requests finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Oracle server shutdown complete")
	return nil
}
