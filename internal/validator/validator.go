// Package validator decides, per inbound webhook call, whether the request
// and each notification inside it can be trusted: provider-signed
// validation tokens are verified cryptographically, and the client state
// echoed in every notification is compared against the configured secret.
package validator

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
)

// Config contains validation settings
type Config struct {
	// AppID is the registered application ID; validation tokens must
	// carry it as their audience.
	AppID string

	// TenantID is the registered tenant; validation tokens must carry it
	// in their tid claim and issuer.
	TenantID string

	// ClientState is the shared secret the provider echoes in every
	// notification.
	ClientState string
}

// Validator verifies validation tokens and client state
type Validator struct {
	config  Config
	keyfunc jwt.Keyfunc
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Validator. The keyfunc resolves the provider's signing
// keys; production wiring uses a RemoteKeySet, tests inject a static key.
func New(config Config, keyfunc jwt.Keyfunc) *Validator {
	return &Validator{
		config:  config,
		keyfunc: keyfunc,
		logger:  logging.Component("validator"),
		metrics: metrics.GetMetrics(),
	}
}

// CheckClientState reports whether a notification's echoed client state
// matches the configured secret. Comparison is constant-time.
func (v *Validator) CheckClientState(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(v.config.ClientState)) == 1
}

// VerifyValidationTokens verifies every signed validation token in a
// request body. All tokens must verify for the batch to be accepted; a
// single failure rejects the whole request.
func (v *Validator) VerifyValidationTokens(ctx context.Context, tokens []string) error {
	for i, token := range tokens {
		if err := v.verifyToken(ctx, token); err != nil {
			v.metrics.TokenValidationsTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("validation token %d rejected: %w", i, err)
		}
	}

	if len(tokens) > 0 {
		v.metrics.TokenValidationsTotal.WithLabelValues("accepted").Inc()
	}
	return nil
}

func (v *Validator) verifyToken(_ context.Context, token string) error {
	parsed, err := jwt.Parse(
		token,
		v.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.config.AppID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	tid, _ := claims["tid"].(string)
	if tid != v.config.TenantID {
		return fmt.Errorf("token tenant %q does not match registered tenant", tid)
	}

	issuer, err := claims.GetIssuer()
	if err != nil {
		return fmt.Errorf("token has no issuer: %w", err)
	}
	if issuer != v.expectedIssuer() {
		return fmt.Errorf("token issuer %q does not match registered tenant", issuer)
	}

	return nil
}

// expectedIssuer is the identity platform's exact issuer URL for the
// registered tenant. Substring matches are not good enough: any issuer
// merely embedding the tenant ID must be rejected.
func (v *Validator) expectedIssuer() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", v.config.TenantID)
}
