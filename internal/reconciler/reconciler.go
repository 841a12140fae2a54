// Package reconciler keeps remote subscriptions alive. It consumes
// provider lifecycle events and extends the expiration of subscriptions
// it knows about; it never creates or deletes them.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/notification"
	"github.com/subwatch/subwatch/internal/store"
)

// SubscriptionStore is the store read needed to authorize a lifecycle
// event.
type SubscriptionStore interface {
	Get(ctx context.Context, subscriptionID string) (*store.Subscription, error)
}

// SubscriptionRenewer extends a remote subscription's expiration
type SubscriptionRenewer interface {
	RenewSubscription(ctx context.Context, owner, subscriptionID string, expires time.Time) error
}

// Config contains reconciler settings
type Config struct {
	// How far into the future renewed subscriptions expire
	RenewalWindow time.Duration
}

// DefaultConfig returns a default reconciler configuration
func DefaultConfig() Config {
	return Config{
		RenewalWindow: time.Hour,
	}
}

// Reconciler handles lifecycle notifications
type Reconciler struct {
	config  Config
	store   SubscriptionStore
	renewer SubscriptionRenewer
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Reconciler
func New(config Config, subs SubscriptionStore, renewer SubscriptionRenewer) *Reconciler {
	if config.RenewalWindow <= 0 {
		config.RenewalWindow = DefaultConfig().RenewalWindow
	}

	return &Reconciler{
		config:  config,
		store:   subs,
		renewer: renewer,
		logger:  logging.Component("reconciler"),
		metrics: metrics.GetMetrics(),
	}
}

// HandleLifecycle processes one lifecycle notification whose client state
// has already been authenticated. Events that are not reauthorization
// requests, or that reference no known subscription, are ignored. A failed
// renewal is returned for logging and retried only when the provider sends
// the next lifecycle event; there is no internal retry loop.
func (r *Reconciler) HandleLifecycle(ctx context.Context, n notification.ChangeNotification) error {
	if n.LifecycleEvent != notification.LifecycleReauthorizationRequired {
		r.logger.Debug().
			Str("subscription_id", n.SubscriptionID).
			Str("lifecycle_event", n.LifecycleEvent).
			Msg("Ignoring lifecycle event")
		return nil
	}

	sub, err := r.store.Get(ctx, n.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to look up subscription %s: %w", n.SubscriptionID, err)
	}
	if sub == nil {
		r.logger.Debug().
			Str("subscription_id", n.SubscriptionID).
			Msg("Lifecycle event for unknown subscription, ignoring")
		return nil
	}

	expires := timeNow().Add(r.config.RenewalWindow)
	if err := r.renewer.RenewSubscription(ctx, sub.OwnerID, sub.SubscriptionID, expires); err != nil {
		r.metrics.RenewalsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to renew subscription %s: %w", sub.SubscriptionID, err)
	}

	r.metrics.RenewalsTotal.WithLabelValues("ok").Inc()
	r.logger.Info().
		Str("subscription_id", sub.SubscriptionID).
		Str("owner_id", sub.OwnerID).
		Time("expires", expires).
		Msg("Renewed subscription")
	return nil
}

// Variable for the clock, replaceable in tests
var timeNow = time.Now
