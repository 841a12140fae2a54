package api

import (
	"encoding/json"
	"net/http"

	"github.com/subwatch/subwatch/internal/notification"
)

// handleLifecycle is the endpoint the provider sends subscription
// lifecycle notifications to. It shares the handshake and uniform-202
// contract with the listen endpoint but routes events to the reconciler
// instead of the relay.
func (a *API) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	a.metrics.WebhookRequestsTotal.WithLabelValues("lifecycle").Inc()

	if a.answerHandshake(w, r) {
		return
	}

	var payload notification.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.logger.Warn().Err(err).Msg("Malformed lifecycle payload")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, n := range payload.Value {
		if !a.validator.CheckClientState(n.ClientState) {
			a.metrics.NotificationsDropped.WithLabelValues("client_state").Inc()
			a.logger.Warn().
				Str("subscription_id", n.SubscriptionID).
				Msg("Dropping lifecycle event with mismatched client state")
			continue
		}

		if err := a.reconciler.HandleLifecycle(ctx, n); err != nil {
			// Renewal failures wait for the provider's next lifecycle
			// event; nothing to surface in the response.
			a.logger.Error().
				Err(err).
				Str("subscription_id", n.SubscriptionID).
				Msg("Lifecycle handling failed")
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
