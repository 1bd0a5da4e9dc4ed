package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tjfontaine/llm-governor/internal/telemetry"
	"github.com/tjfontaine/llm-governor/pkg/governor"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("llm-governor", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	gov, err := governor.New(
		governor.WithConfigFile(*configPath),
		governor.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create governor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A policy config error here is fatal: the governor never starts with
	// an unenforceable rule ladder.
	if err := gov.Start(ctx); err != nil {
		log.Fatalf("Failed to start governor: %v", err)
	}

	<-ctx.Done()
	stop()

	logger.Info("shutdown signal received, stopping governor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gov.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("GOVERNOR_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}
