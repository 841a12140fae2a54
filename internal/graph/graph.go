// Package graph is a thin client for the subset of the Microsoft Graph
// API this service consumes: message fetch and the subscription object.
// Token acquisition is a capability the caller injects; the sign-in flows
// that produce tokens live outside this process.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
)

// TokenSource acquires an access token for API calls made on behalf of
// the given owner. The app-only owner sentinel selects the client
// credentials path in real implementations.
type TokenSource interface {
	AcquireToken(ctx context.Context, owner string) (string, error)
}

// StaticTokenSource returns a fixed token for every owner. Useful in
// tests and local development.
type StaticTokenSource struct {
	Token string
}

// AcquireToken implements TokenSource
func (s StaticTokenSource) AcquireToken(ctx context.Context, owner string) (string, error) {
	return s.Token, nil
}

// Config contains Graph client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://graph.microsoft.com/v1.0",
		Timeout: 15 * time.Second,
	}
}

// Message is the minimal message projection fetched on notification
type Message struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

// Subscription is the remote subscription object. Expiry lives here, on
// the provider side; the local store never records it.
type Subscription struct {
	ID                       string    `json:"id,omitempty"`
	Resource                 string    `json:"resource,omitempty"`
	ChangeType               string    `json:"changeType,omitempty"`
	NotificationURL          string    `json:"notificationUrl,omitempty"`
	LifecycleNotificationURL string    `json:"lifecycleNotificationUrl,omitempty"`
	ClientState              string    `json:"clientState,omitempty"`
	IncludeResourceData      bool      `json:"includeResourceData,omitempty"`
	EncryptionCertificate    string    `json:"encryptionCertificate,omitempty"`
	EncryptionCertificateID  string    `json:"encryptionCertificateId,omitempty"`
	ExpirationDateTime       time.Time `json:"expirationDateTime,omitempty"`
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("graph API returned %d: %s", e.StatusCode, e.Body)
}

// Client calls the Graph API
type Client struct {
	config     Config
	httpClient *http.Client
	tokens     TokenSource
	logger     zerolog.Logger
}

// NewClient creates a Graph client using the given token source
func NewClient(config Config, tokens TokenSource) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		tokens:     tokens,
		logger:     logging.Component("graph"),
	}
}

// GetMessage fetches the subject and ID of a mailbox message
func (c *Client) GetMessage(ctx context.Context, owner, messageID string) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/me/messages/%s?$select=subject,id", messageID)
	if err := c.do(ctx, owner, http.MethodGet, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateSubscription registers a new change subscription with the provider
func (c *Client) CreateSubscription(ctx context.Context, owner string, sub Subscription) (*Subscription, error) {
	var created Subscription
	if err := c.do(ctx, owner, http.MethodPost, "/subscriptions", sub, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// RenewSubscription extends a subscription's expiration. Only provider
// state changes; callers do not touch the local store.
func (c *Client) RenewSubscription(ctx context.Context, owner, subscriptionID string, expires time.Time) error {
	body := map[string]string{
		"expirationDateTime": expires.UTC().Format(time.RFC3339),
	}
	path := "/subscriptions/" + subscriptionID
	return c.do(ctx, owner, http.MethodPatch, path, body, nil)
}

// DeleteSubscription removes a subscription from the provider
func (c *Client) DeleteSubscription(ctx context.Context, owner, subscriptionID string) error {
	path := "/subscriptions/" + subscriptionID
	return c.do(ctx, owner, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, owner, method, path string, body, out any) error {
	token, err := c.tokens.AcquireToken(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to acquire token for %s: %w", owner, err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
