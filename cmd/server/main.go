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

	"github.com/joho/godotenv"

	"github.com/cofers/txguard/internal/config"
	"github.com/cofers/txguard/internal/dedupe"
	"github.com/cofers/txguard/internal/detect"
	"github.com/cofers/txguard/internal/httpapi"
	infraBQ "github.com/cofers/txguard/internal/infra/bigquery"
	infraPS "github.com/cofers/txguard/internal/infra/pubsub"
	"github.com/cofers/txguard/internal/logger"
	"github.com/cofers/txguard/internal/normalize"
	"github.com/cofers/txguard/internal/pipeline"
)

func main() {
	// Local development convenience; in deployment the env is injected.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	// The idempotency store is the only component worth dying for: without
	// it the gate cannot guarantee at-most-once admission.
	redisClient, err := dedupe.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		cfg.StorePingAttempts, cfg.StorePingBackoff, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Idempotency store unavailable")
	}
	defer redisClient.Close()
	gate := dedupe.NewGate(dedupe.NewRedisStore(redisClient), cfg.GateOptions(), log)

	warehouse, err := infraBQ.NewWarehouse(ctx, cfg.GCPProject, cfg.BronzeTable, cfg.SilverTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create warehouse client")
	}
	defer warehouse.Close()

	publisher, err := infraPS.NewPublisher(ctx, cfg.GCPProject, cfg.TopicIn, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer publisher.Close()

	detector, err := detect.New(cfg.DetectorConfig(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid detector configuration")
	}

	runner := pipeline.NewRunner(warehouse, normalize.New(log), gate, detector, publisher, log)
	e := httpapi.NewServer(runner, log)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info().Str("addr", addr).Msg("Starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
