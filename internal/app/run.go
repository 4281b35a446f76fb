package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/config"
)

// Version is reported at startup
const Version = "1.0.0"

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()

	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting personalization sync", logging.Field{Key: "version", Value: Version})

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.RunServer()
	if err != nil {
		logging.Error("Failed to start scheduler", err)
		return err
	}
	serveErr, err := srv.Start()
	if err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	logging.Info("Server listening", logging.Field{Key: "addr", Value: srv.Addr()})

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logging.Error("Server stopped unexpectedly", err)
		}
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err.Error()})
	}

	logging.Info("Server exited")
	return nil
}
