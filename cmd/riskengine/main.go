package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"riskengine/internal/cfg"
	"riskengine/internal/metrics"
	"riskengine/internal/predict"
	"riskengine/internal/registry"
	"riskengine/internal/scorer"
	"riskengine/internal/server"
	"riskengine/internal/storage"
	"riskengine/internal/training"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	settings, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	dataPath := settings.DataPath
	if dataPath == "" {
		dataPath = "."
	}
	store, err := storage.New(dataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dataPath).Msg("storage init failed")
	}
	defer store.Close()

	m := metrics.New()
	sc := scorer.NewClient(settings.ScorerURL, settings.ScorerTimeout)
	reg := registry.New(store, settings)
	predictions := predict.NewService(store, reg, sc, m, settings)
	trainer := training.New(store, reg, sc, predictions.Cache(), m, settings)
	api := server.New(predictions, trainer, store, settings.ListenPort)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Info().Int("port", settings.MetricsPort).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start()
	}()

	log.Info().
		Int("port", settings.ListenPort).
		Str("scorer", settings.ScorerURL).
		Str("dataPath", dataPath).
		Msg("risk engine started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("api server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown incomplete")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown incomplete")
	}
	log.Info().Msg("stopped")
}
