// Package submgr creates and removes the remote subscriptions whose
// notifications this service relays, keeping the local store in step.
package submgr

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/graph"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/store"
)

// SubscriptionAPI is the remote subscription surface the manager drives
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, owner string, sub graph.Subscription) (*graph.Subscription, error)
	DeleteSubscription(ctx context.Context, owner, subscriptionID string) error
}

// Store is the local persistence the manager populates
type Store interface {
	Add(ctx context.Context, subscriptionID, ownerID string) error
	Remove(ctx context.Context, subscriptionID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]store.Subscription, error)
}

// Config contains subscription manager settings
type Config struct {
	// Public host the provider delivers notifications to
	NotificationHost string

	// Shared secret echoed back in every notification
	ClientState string

	// Certificate registered for encrypted resource data, referenced by
	// the provider-assigned ID
	CertificatePath string
	CertificateID   string

	// Initial subscription lifetime
	ExpirationWindow time.Duration
}

// DefaultConfig returns a default manager configuration
func DefaultConfig() Config {
	return Config{
		ExpirationWindow: time.Hour,
	}
}

// Manager creates and removes subscriptions
type Manager struct {
	config Config
	api    SubscriptionAPI
	store  Store
	logger zerolog.Logger
}

// New creates a Manager
func New(config Config, api SubscriptionAPI, subs Store) *Manager {
	if config.ExpirationWindow <= 0 {
		config.ExpirationWindow = DefaultConfig().ExpirationWindow
	}

	return &Manager{
		config: config,
		api:    api,
		store:  subs,
		logger: logging.Component("submgr"),
	}
}

// SubscribeInbox creates a delegated subscription to a user's inbox
// messages. Resource data is not included, so notifications on this
// subscription trigger a message fetch instead of decryption.
func (m *Manager) SubscribeInbox(ctx context.Context, userID string) (*graph.Subscription, error) {
	req := graph.Subscription{
		ChangeType:               "created",
		NotificationURL:          m.config.NotificationHost + "/listen",
		LifecycleNotificationURL: m.config.NotificationHost + "/lifecycle",
		Resource:                 "me/mailFolders/inbox/messages",
		ClientState:              m.config.ClientState,
		IncludeResourceData:      false,
		ExpirationDateTime:       timeNow().Add(m.config.ExpirationWindow),
	}

	created, err := m.api.CreateSubscription(ctx, userID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create inbox subscription: %w", err)
	}

	if err := m.store.Add(ctx, created.ID, userID); err != nil {
		return nil, fmt.Errorf("failed to record subscription %s: %w", created.ID, err)
	}

	m.logger.Info().
		Str("subscription_id", created.ID).
		Str("owner_id", userID).
		Msg("Subscribed to inbox messages")
	return created, nil
}

// SubscribeTeamsMessages creates the app-only subscription to all Teams
// channel messages. The provider allows a single app subscription to this
// resource, so any existing one is deleted first; the two steps are
// independent single-row operations and partial completion is tolerated.
func (m *Manager) SubscribeTeamsMessages(ctx context.Context) (*graph.Subscription, error) {
	existing, err := m.store.ListByOwner(ctx, store.AppOnlyOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to list app subscriptions: %w", err)
	}

	for _, sub := range existing {
		if err := m.api.DeleteSubscription(ctx, store.AppOnlyOwner, sub.SubscriptionID); err != nil {
			m.logger.Warn().
				Err(err).
				Str("subscription_id", sub.SubscriptionID).
				Msg("Failed to delete superseded remote subscription")
		}
		if err := m.store.Remove(ctx, sub.SubscriptionID); err != nil {
			return nil, err
		}
	}

	certificate, err := serializeCertificate(m.config.CertificatePath)
	if err != nil {
		return nil, err
	}

	req := graph.Subscription{
		ChangeType:               "created",
		NotificationURL:          m.config.NotificationHost + "/listen",
		LifecycleNotificationURL: m.config.NotificationHost + "/lifecycle",
		Resource:                 "/teams/getAllMessages",
		ClientState:              m.config.ClientState,
		IncludeResourceData:      true,
		EncryptionCertificate:    certificate,
		EncryptionCertificateID:  m.config.CertificateID,
		ExpirationDateTime:       timeNow().Add(m.config.ExpirationWindow),
	}

	created, err := m.api.CreateSubscription(ctx, store.AppOnlyOwner, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create Teams subscription: %w", err)
	}

	if err := m.store.Add(ctx, created.ID, store.AppOnlyOwner); err != nil {
		return nil, fmt.Errorf("failed to record subscription %s: %w", created.ID, err)
	}

	m.logger.Info().
		Str("subscription_id", created.ID).
		Msg("Subscribed to Teams channel messages")
	return created, nil
}

// Unsubscribe removes a subscription. The local row goes first so that
// notifications stop being routed immediately; the remote delete is best
// effort since the provider expires abandoned subscriptions on its own.
func (m *Manager) Unsubscribe(ctx context.Context, owner, subscriptionID string) error {
	if err := m.store.Remove(ctx, subscriptionID); err != nil {
		return err
	}

	if err := m.api.DeleteSubscription(ctx, owner, subscriptionID); err != nil {
		m.logger.Warn().
			Err(err).
			Str("subscription_id", subscriptionID).
			Msg("Failed to delete remote subscription")
	}

	return nil
}

// serializeCertificate reads a PEM certificate and returns the base64
// encoding of its DER bytes, the form the provider expects when declaring
// a subscription's encryption key.
func serializeCertificate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read certificate: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no certificate found in PEM data")
	}

	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}

// Variable for the clock, replaceable in tests
var timeNow = time.Now
