package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(Config{BaseURL: server.URL}, StaticTokenSource{Token: "test-token"})
	return client, server
}

func TestGetMessage(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/me/messages/msg-1", r.URL.Path)
		assert.Equal(t, "subject,id", r.URL.Query().Get("$select"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(Message{ID: "msg-1", Subject: "Hi"})
	})
	defer server.Close()

	msg, err := client.GetMessage(context.Background(), "user-1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, &Message{ID: "msg-1", Subject: "Hi"}, msg)
}

func TestCreateSubscription(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var sub Subscription
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		assert.Equal(t, "me/mailFolders/inbox/messages", sub.Resource)
		assert.Equal(t, "secret", sub.ClientState)

		sub.ID = "sub-new"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sub)
	})
	defer server.Close()

	created, err := client.CreateSubscription(context.Background(), "user-1", Subscription{
		Resource:    "me/mailFolders/inbox/messages",
		ChangeType:  "created",
		ClientState: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-new", created.ID)
}

func TestRenewSubscription(t *testing.T) {
	expires := time.Now().Add(time.Hour)

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/subscriptions/sub-1", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		parsed, err := time.Parse(time.RFC3339, body["expirationDateTime"])
		require.NoError(t, err)
		assert.WithinDuration(t, expires, parsed, time.Second)

		w.WriteHeader(http.StatusNoContent)
	})
	defer server.Close()

	err := client.RenewSubscription(context.Background(), "user-1", "sub-1", expires)
	assert.NoError(t, err)
}

func TestDeleteSubscription(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/subscriptions/sub-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	defer server.Close()

	err := client.DeleteSubscription(context.Background(), "user-1", "sub-1")
	assert.NoError(t, err)
}

func TestAPIError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"ResourceNotFound"}}`))
	})
	defer server.Close()

	_, err := client.GetMessage(context.Background(), "user-1", "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "ResourceNotFound")
}

type failingTokenSource struct{}

func (failingTokenSource) AcquireToken(ctx context.Context, owner string) (string, error) {
	return "", assert.AnError
}

func TestTokenAcquisitionFailure(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, failingTokenSource{})

	_, err := client.GetMessage(context.Background(), "user-1", "msg-1")
	assert.ErrorIs(t, err, assert.AnError)
}
