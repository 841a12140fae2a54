package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/subwatch/subwatch/internal/store"
)

// subscribeRequest selects the subscription to create. An empty or
// app-only owner requests the application-level Teams channel
// subscription; anything else is a delegated inbox subscription for that
// user.
type subscribeRequest struct {
	OwnerID string `json:"ownerId"`
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}

	ctx := r.Context()

	if req.OwnerID == "" || req.OwnerID == store.AppOnlyOwner {
		sub, err := a.submgr.SubscribeTeamsMessages(ctx)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to create Teams subscription")
			a.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "subscription creation failed"})
			return
		}
		a.writeJSON(w, http.StatusCreated, sub)
		return
	}

	sub, err := a.submgr.SubscribeInbox(ctx, req.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionExists) {
			a.writeJSON(w, http.StatusConflict, map[string]string{"error": "subscription already exists"})
			return
		}
		a.logger.Error().Err(err).Msg("Failed to create inbox subscription")
		a.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "subscription creation failed"})
		return
	}

	a.writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = store.AppOnlyOwner
	}

	if err := a.submgr.Unsubscribe(r.Context(), owner, subscriptionID); err != nil {
		a.logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("Failed to unsubscribe")
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unsubscribe failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
