package validator

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
)

// KeySetURL returns the identity platform's signing key endpoint for a
// tenant.
func KeySetURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", tenantID)
}

// RemoteKeySet fetches and caches the provider's token signing keys. Keys
// rotate rarely; the cache is refreshed on expiry or when an unknown key
// ID shows up.
type RemoteKeySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	expires time.Time

	logger zerolog.Logger
}

// NewRemoteKeySet creates a key set backed by the given JWKS endpoint
func NewRemoteKeySet(url string) *RemoteKeySet {
	return &RemoteKeySet{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        time.Hour,
		logger:     logging.Component("keyset"),
	}
}

// Keyfunc resolves the signing key for a token by its key ID, suitable
// for jwt.Parse.
func (ks *RemoteKeySet) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no key ID")
	}

	key, err := ks.key(kid)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (ks *RemoteKeySet) key(kid string) (*rsa.PublicKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if key, ok := ks.keys[kid]; ok && time.Now().Before(ks.expires) {
		return key, nil
	}

	if err := ks.refreshLocked(); err != nil {
		return nil, err
	}

	key, ok := ks.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key with ID %q", kid)
	}
	return key, nil
}

func (ks *RemoteKeySet) refreshLocked() error {
	resp, err := ks.httpClient.Get(ks.url)
	if err != nil {
		return fmt.Errorf("failed to fetch signing keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signing key endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode signing keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}

		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}

		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}

	if len(keys) == 0 {
		return fmt.Errorf("signing key endpoint returned no usable keys")
	}

	ks.keys = keys
	ks.expires = time.Now().Add(ks.ttl)
	ks.logger.Debug().Int("keys", len(keys)).Msg("Refreshed signing keys")
	return nil
}
