package api

import (
	"context"

	"github.com/subwatch/subwatch/internal/graph"
	"github.com/subwatch/subwatch/internal/notification"
	"github.com/subwatch/subwatch/internal/store"
)

// SubscriptionStore is the read surface the webhook handlers need
type SubscriptionStore interface {
	Get(ctx context.Context, subscriptionID string) (*store.Subscription, error)
}

// MessageFetcher re-fetches a changed message when the notification
// carries no resource data.
type MessageFetcher interface {
	GetMessage(ctx context.Context, owner, messageID string) (*graph.Message, error)
}

// Decryptor opens encrypted notification envelopes
type Decryptor interface {
	Open(content *notification.EncryptedContent) ([]byte, error)
}

// LifecycleHandler consumes authenticated lifecycle notifications
type LifecycleHandler interface {
	HandleLifecycle(ctx context.Context, n notification.ChangeNotification) error
}

// SubscriptionManager drives subscription creation and removal
type SubscriptionManager interface {
	SubscribeInbox(ctx context.Context, userID string) (*graph.Subscription, error)
	SubscribeTeamsMessages(ctx context.Context) (*graph.Subscription, error)
	Unsubscribe(ctx context.Context, owner, subscriptionID string) error
}
