package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/engine"
	"github.com/subwatch/subwatch/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	dataDir := flag.String("data-dir", "", "Data directory for the subscription store")
	serverAddr := flag.String("addr", "", "HTTP server address")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile, *dataDir, *serverAddr, *logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	loggingConfig := logging.Config{
		Level:             cfg.Logging.Level,
		Format:            logging.LogFormat(cfg.Logging.Format),
		IncludeCaller:     cfg.Logging.IncludeCaller,
		IncludeStacktrace: cfg.Logging.IncludeStacktrace,
		GlobalFields:      cfg.Logging.GlobalFields,
	}
	if err := logging.Setup(loggingConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	e, err := engine.CreateEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Caught signal, shutting down")
		cancel()
	}()

	if err := e.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Engine exited with error")
	}
}
