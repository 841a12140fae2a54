// Package engine assembles the application: it builds every component
// from configuration, wires them together and manages their combined
// lifecycle.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/subwatch/subwatch/internal/api"
	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/decrypt"
	"github.com/subwatch/subwatch/internal/graph"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/reconciler"
	"github.com/subwatch/subwatch/internal/relay"
	"github.com/subwatch/subwatch/internal/store"
	"github.com/subwatch/subwatch/internal/submgr"
	"github.com/subwatch/subwatch/internal/validator"
	"golang.org/x/sync/errgroup"
)

// Engine is the main coordinator of all components
type Engine struct {
	config  *config.Config
	store   *store.Store
	hub     *relay.Hub
	api     *api.API
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// CreateEngine builds an Engine with all components initialized from the
// configuration.
func CreateEngine(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	subs, err := store.Open(store.Config{
		DataDir:      cfg.Storage.DataDir,
		CacheEnabled: cfg.Storage.CacheEnabled,
		CacheSize:    cfg.Storage.SubscriptionCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription store: %w", err)
	}

	keySet := validator.NewRemoteKeySet(validator.KeySetURL(cfg.Webhook.TenantID))
	v := validator.New(validator.Config{
		AppID:       cfg.Webhook.AppID,
		TenantID:    cfg.Webhook.TenantID,
		ClientState: cfg.Webhook.ClientState,
	}, keySet.Keyfunc)

	// Without a private key, encrypted notifications are dropped at
	// ingestion; plain notifications still flow.
	var decryptor api.Decryptor
	if cfg.Crypto.PrivateKeyPath != "" {
		d, err := decrypt.NewFromFile(cfg.Crypto.PrivateKeyPath, cfg.Crypto.PrivateKeyPassword)
		if err != nil {
			subs.Close()
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		decryptor = d
	} else {
		log.Warn().Msg("No private key configured, encrypted notifications will be dropped")
	}

	graphClient := graph.NewClient(graph.Config{
		BaseURL: cfg.Graph.BaseURL,
	}, graph.StaticTokenSource{Token: cfg.Graph.AccessToken})

	hub := relay.NewHub(relay.Config{
		MaxBufferSize: cfg.Relay.MaxBufferSize,
	})

	rec := reconciler.New(reconciler.DefaultConfig(), subs, graphClient)

	manager := submgr.New(submgr.Config{
		NotificationHost: cfg.Graph.NotificationHost,
		ClientState:      cfg.Webhook.ClientState,
		CertificatePath:  cfg.Crypto.CertificatePath,
		CertificateID:    cfg.Crypto.CertificateID,
	}, graphClient, subs)

	apiServer := api.New(api.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:     time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	}, subs, v, decryptor, graphClient, hub, rec, manager)

	return &Engine{
		config:  cfg,
		store:   subs,
		hub:     hub,
		api:     apiServer,
		logger:  logging.Component("engine"),
		metrics: metrics.GetMetrics(),
	}, nil
}

// Start runs all components until the context is canceled
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Msg("Starting engine")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Engine shut down successfully")
	return nil
}

// Shutdown stops all components in dependency order: the API first so no
// new notifications arrive, then the relay, then storage.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	if err := e.hub.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down relay hub")
	}

	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close subscription store")
		return err
	}

	return nil
}
