// Package api exposes the webhook ingress (listen and lifecycle
// endpoints), the relay stream, and the subscription management surface
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/relay"
	"github.com/subwatch/subwatch/internal/validator"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Metrics exposure
	MetricsEnabled  bool
	MetricsEndpoint string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		MetricsEnabled:  true,
		MetricsEndpoint: "/metrics",
	}
}

// API handles HTTP endpoints
type API struct {
	config     Config
	store      SubscriptionStore
	validator  *validator.Validator
	decryptor  Decryptor
	graph      MessageFetcher
	hub        *relay.Hub
	reconciler LifecycleHandler
	submgr     SubscriptionManager
	server     *http.Server
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a new API instance
func New(
	config Config,
	subs SubscriptionStore,
	v *validator.Validator,
	decryptor Decryptor,
	fetcher MessageFetcher,
	hub *relay.Hub,
	reconciler LifecycleHandler,
	manager SubscriptionManager,
) *API {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}

	return &API{
		config:     config,
		store:      subs,
		validator:  v,
		decryptor:  decryptor,
		graph:      fetcher,
		hub:        hub,
		reconciler: reconciler,
		submgr:     manager,
		logger:     logging.Component("api"),
		metrics:    metrics.GetMetrics(),
	}
}

// Handler builds the route tree
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Webhook ingress
	r.Post("/listen", a.handleListen)
	r.Post("/lifecycle", a.handleLifecycle)

	// Real-time relay
	r.Get("/stream", a.hub.Handler)

	// Subscription management
	r.Post("/subscriptions", a.handleSubscribe)
	r.Delete("/subscriptions/{subscriptionID}", a.handleUnsubscribe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if a.config.MetricsEnabled {
		r.Handle(a.config.MetricsEndpoint, promhttp.Handler())
	}

	return r
}

// Start runs the HTTP server until Shutdown is called
func (a *API) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	a.server = &http.Server{
		Addr:         a.config.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down API server")
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status
func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error().Err(err).Msg("Failed to write response")
	}
}
