// Package relay implements the best-effort fan-out of processed
// notification events to connected listeners. Channels are keyed by
// subscription ID; membership is dynamic and nothing is buffered or
// replayed for late joiners.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/notification"
)

// Config contains relay configuration
type Config struct {
	// Maximum buffer size for listener event channels
	MaxBufferSize int
}

// DefaultConfig returns a default relay configuration
func DefaultConfig() Config {
	return Config{
		MaxBufferSize: 100,
	}
}

// Listener is one connected consumer of relay events
type Listener struct {
	ID       string
	Channels []string
	Events   chan notification.Event
}

// Hub routes events to the listeners joined to each channel
type Hub struct {
	config    Config
	listeners map[string]*Listener
	channels  map[string]map[string]struct{} // channel key -> set of listener IDs
	mu        sync.RWMutex
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewHub creates a new relay hub
func NewHub(config ...Config) *Hub {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	} else {
		cfg = DefaultConfig()
	}

	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultConfig().MaxBufferSize
	}

	return &Hub{
		config:    cfg,
		listeners: make(map[string]*Listener),
		channels:  make(map[string]map[string]struct{}),
		logger:    logging.Component("relay"),
		metrics:   metrics.GetMetrics(),
	}
}

// Join registers a new listener on the given channels. Listeners created
// with no channels declare interest later via AddChannel.
func (h *Hub) Join(channelKeys ...string) *Listener {
	listener := &Listener{
		ID:       generateID(),
		Channels: channelKeys,
		Events:   make(chan notification.Event, h.config.MaxBufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.listeners[listener.ID] = listener

	for _, key := range channelKeys {
		if _, ok := h.channels[key]; !ok {
			h.channels[key] = make(map[string]struct{})
		}
		h.channels[key][listener.ID] = struct{}{}
	}

	h.metrics.RelayListenersActive.Inc()
	return listener
}

// AddChannel joins an existing listener to one more channel
func (h *Hub) AddChannel(listenerID, channelKey string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	listener, ok := h.listeners[listenerID]
	if !ok {
		return fmt.Errorf("listener not found: %s", listenerID)
	}

	if _, ok := h.channels[channelKey]; !ok {
		h.channels[channelKey] = make(map[string]struct{})
	}
	h.channels[channelKey][listenerID] = struct{}{}
	listener.Channels = append(listener.Channels, channelKey)

	h.logger.Debug().
		Str("listener_id", listenerID).
		Str("channel", channelKey).
		Msg("Listener joined channel")
	return nil
}

// Leave removes a listener and closes its event channel
func (h *Hub) Leave(listenerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	listener, ok := h.listeners[listenerID]
	if !ok {
		return
	}

	for _, key := range listener.Channels {
		if members, ok := h.channels[key]; ok {
			delete(members, listenerID)
			if len(members) == 0 {
				delete(h.channels, key)
			}
		}
	}

	close(listener.Events)
	delete(h.listeners, listenerID)
	h.metrics.RelayListenersActive.Dec()
}

// Publish delivers an event to every listener currently joined to the
// channel. Delivery is at-most-once and non-blocking: a listener whose
// buffer is full misses the event. Duplicate publications are passed
// through untouched; deduplication is the downstream consumer's job.
//
// The read lock is held for the whole delivery. Sends never block, and
// Leave/Shutdown close listener channels only under the write lock, so a
// channel can never be closed between the membership check and the send.
func (h *Hub) Publish(channelKey string, event notification.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.channels[channelKey]
	if !ok {
		return
	}

	h.metrics.RelayEventsPublished.WithLabelValues(string(event.Type)).Inc()

	for id := range members {
		listener, ok := h.listeners[id]
		if !ok {
			continue
		}

		select {
		case listener.Events <- event:
		default:
			h.metrics.RelayEventsDropped.Inc()
			h.logger.Warn().
				Str("listener_id", id).
				Str("channel", channelKey).
				Msg("Listener buffer full, dropping event")
		}
	}
}

// Shutdown closes every listener channel and clears membership
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info().Msg("Shutting down relay hub")

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, listener := range h.listeners {
		close(listener.Events)
		delete(h.listeners, id)
	}
	h.channels = make(map[string]map[string]struct{})

	return nil
}

// Variable for generating listener IDs, replaceable in tests
var generateID = func() string {
	return uuid.NewString()
}
