package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/notification"
	"github.com/subwatch/subwatch/internal/store"
)

// answerHandshake responds to the provider's endpoint validation request:
// the validationToken query parameter is echoed back verbatim as plain
// text. This must run before any body parsing; handshake calls carry no
// body worth reading.
func (a *API) answerHandshake(w http.ResponseWriter, r *http.Request) bool {
	token := r.URL.Query().Get("validationToken")
	if token == "" {
		return false
	}

	a.metrics.HandshakesTotal.Inc()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, token)
	return true
}

// handleListen is the notification endpoint the provider delivers change
// notifications to. Once the request as a whole validates, the response
// is always 202 regardless of how many contained notifications were
// dropped: the provider retries aggressively on anything else.
func (a *API) handleListen(w http.ResponseWriter, r *http.Request) {
	a.metrics.WebhookRequestsTotal.WithLabelValues("listen").Inc()

	if a.answerHandshake(w, r) {
		return
	}

	var payload notification.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.logger.Warn().Err(err).Msg("Malformed notification payload")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// All validation tokens must verify or the whole batch is rejected.
	// The response stays 202 either way.
	if err := a.validator.VerifyValidationTokens(ctx, payload.ValidationTokens); err != nil {
		a.logger.Warn().Err(err).Msg("Rejecting notification batch")
	} else {
		for i := range payload.Value {
			a.processNotification(ctx, &payload.Value[i])
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

// processNotification handles one notification in isolation; its failures
// are logged and never abort siblings in the same batch.
func (a *API) processNotification(ctx context.Context, n *notification.ChangeNotification) {
	logger := logging.FromContext(ctx).With().
		Str("component", "api").
		Str("subscription_id", n.SubscriptionID).
		Logger()

	if !a.validator.CheckClientState(n.ClientState) {
		a.metrics.NotificationsDropped.WithLabelValues("client_state").Inc()
		logger.Warn().Msg("Dropping notification with mismatched client state")
		return
	}

	sub, err := a.store.Get(ctx, n.SubscriptionID)
	if err != nil {
		a.metrics.NotificationsDropped.WithLabelValues("storage").Inc()
		logger.Error().Err(err).Msg("Subscription lookup failed")
		return
	}
	if sub == nil {
		a.metrics.NotificationsDropped.WithLabelValues("unknown_subscription").Inc()
		logger.Debug().Msg("Dropping notification for unknown subscription")
		return
	}

	switch kind := n.Classify(); kind {
	case notification.KindMessage:
		a.processMessage(ctx, n, sub, logger)
	default:
		a.processEncrypted(n, kind, logger)
	}
}

// processMessage handles a notification without resource data by
// re-fetching the changed message from the provider.
func (a *API) processMessage(ctx context.Context, n *notification.ChangeNotification, sub *store.Subscription, logger zerolog.Logger) {
	if n.ResourceData == nil || n.ResourceData.ID == "" {
		a.metrics.NotificationsDropped.WithLabelValues("malformed").Inc()
		logger.Warn().Msg("Notification carries no resource ID")
		return
	}

	msg, err := a.graph.GetMessage(ctx, sub.OwnerID, n.ResourceData.ID)
	if err != nil {
		a.metrics.NotificationsDropped.WithLabelValues("upstream").Inc()
		logger.Error().Err(err).Str("message_id", n.ResourceData.ID).Msg("Failed to fetch message")
		return
	}

	a.publish(n.SubscriptionID, notification.Event{
		Type: notification.KindMessage,
		Resource: notification.MessageResource{
			ID:      msg.ID,
			Subject: msg.Subject,
		},
	})
}

// processEncrypted runs the decryption pipeline and publishes the
// recovered payload. Any pipeline failure drops this single notification.
func (a *API) processEncrypted(n *notification.ChangeNotification, kind notification.EventKind, logger zerolog.Logger) {
	if a.decryptor == nil {
		a.metrics.NotificationsDropped.WithLabelValues("no_key").Inc()
		logger.Warn().Msg("Encrypted notification received but no private key is configured")
		return
	}

	plaintext, err := a.decryptor.Open(n.EncryptedContent)
	if err != nil {
		a.metrics.NotificationsDropped.WithLabelValues("crypto").Inc()
		logger.Error().Err(err).Msg("Failed to open encrypted content")
		return
	}

	var resource any
	if kind == notification.KindChannel {
		teamID, channelID, _ := notification.ParseChannelResource(n.Resource)
		var msg struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(plaintext, &msg); err != nil {
			a.metrics.NotificationsDropped.WithLabelValues("decode").Inc()
			logger.Error().Err(err).Msg("Decrypted payload is not valid JSON")
			return
		}
		resource = notification.ChannelResource{
			TeamID:    teamID,
			ChannelID: channelID,
			MessageID: msg.ID,
		}
	} else {
		var decoded any
		if err := json.Unmarshal(plaintext, &decoded); err != nil {
			a.metrics.NotificationsDropped.WithLabelValues("decode").Inc()
			logger.Error().Err(err).Msg("Decrypted payload is not valid JSON")
			return
		}
		resource = decoded
	}

	a.publish(n.SubscriptionID, notification.Event{
		Type:     kind,
		Resource: resource,
	})
}

// publish fans out exactly one event for a successfully processed
// notification.
func (a *API) publish(subscriptionID string, event notification.Event) {
	a.hub.Publish(subscriptionID, event)
	a.metrics.NotificationsTotal.WithLabelValues(string(event.Type)).Inc()
}
