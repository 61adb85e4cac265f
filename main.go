package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"content-router/internal/app"
	"content-router/internal/common/logging"
	"content-router/internal/config"
	"content-router/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", logging.Err(err))
		os.Exit(1)
	}
	defer application.Close()

	application.Start()

	srv := server.New(application.Routes(), cfg.Port)
	serverErrs := srv.Start()
	logger.Info("Server started", logging.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrs:
		logger.Error("Server failed", logging.Err(err))
	case sig := <-quit:
		logger.Info("Shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown", logging.Err(err))
	}
}
