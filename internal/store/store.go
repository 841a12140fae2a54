package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/subwatch/subwatch/internal/logging"
	"github.com/subwatch/subwatch/internal/metrics"
)

const (
	// Prefix keys for the subscription rows and the owner index
	prefixSubscription = "sub:"
	prefixOwner        = "owner:"
)

// AppOnlyOwner is the sentinel owner ID for subscriptions held by the
// application itself rather than a signed-in user.
const AppOnlyOwner = "APP-ONLY"

// ErrSubscriptionExists is returned by Add when a row with the same
// subscription ID is already present.
var ErrSubscriptionExists = errors.New("subscription already exists")

// Subscription maps a provider-assigned subscription ID to the principal
// it was created for. Rows are never updated in place: renewal only
// changes provider-side state.
type Subscription struct {
	SubscriptionID string `json:"subscription_id"`
	OwnerID        string `json:"owner_id"`
}

// Config contains store configuration
type Config struct {
	// Base directory for data files
	DataDir string

	// Read-through cache for subscription lookups
	CacheEnabled bool
	CacheSize    int
}

// DefaultConfig returns a default store configuration
func DefaultConfig() Config {
	return Config{
		DataDir:      "./data",
		CacheEnabled: true,
		CacheSize:    1000,
	}
}

// Store persists subscription rows in Badger. It is the only shared
// mutable state in the process and tolerates concurrent single-row reads
// and writes; no multi-row transactions are needed.
type Store struct {
	config  Config
	db      *badger.DB
	cache   *lru.TwoQueueCache
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Open creates the backing database if absent and returns a ready store.
// Callers treat a failure here as fatal: the process cannot run without
// its subscription records.
func Open(config Config) (*Store, error) {
	logger := logging.Component("store")

	if config.CacheSize <= 0 {
		config.CacheSize = DefaultConfig().CacheSize
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(config.DataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription database: %w", err)
	}

	s := &Store{
		config:  config,
		db:      db,
		logger:  logger,
		metrics: metrics.GetMetrics(),
	}

	if config.CacheEnabled {
		cache, err := lru.New2Q(config.CacheSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create subscription cache: %w", err)
		}
		s.cache = cache
	}

	logger.Info().Str("data_dir", config.DataDir).Msg("Subscription store opened")
	return s, nil
}

// Get returns the subscription with the given ID, or nil when no such row
// exists. An error is returned only for storage failures, never for a
// missing row.
func (s *Store) Get(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if value, found := s.cache.Get(subscriptionID); found {
			s.metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
			sub := value.(Subscription)
			return &sub, nil
		}
		s.metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
	}

	var sub *Subscription
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(subscriptionKey(subscriptionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded Subscription
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			sub = &decoded
			return nil
		})
	})
	if err != nil {
		s.metrics.StoreOperations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("failed to read subscription %s: %w", subscriptionID, err)
	}

	s.metrics.StoreOperations.WithLabelValues("get", "ok").Inc()

	if sub != nil && s.cache != nil {
		s.cache.Add(subscriptionID, *sub)
	}

	return sub, nil
}

// ListByOwner returns every subscription held by the given owner. An empty
// slice, not an error, is returned when the owner has none.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subs := []Subscription{}
	prefix := []byte(prefixOwner + ownerID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			subscriptionID := string(it.Item().Key()[len(prefix):])
			subs = append(subs, Subscription{
				SubscriptionID: subscriptionID,
				OwnerID:        ownerID,
			})
		}
		return nil
	})
	if err != nil {
		s.metrics.StoreOperations.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("failed to list subscriptions for owner %s: %w", ownerID, err)
	}

	s.metrics.StoreOperations.WithLabelValues("list", "ok").Inc()
	return subs, nil
}

// Add inserts a subscription row. ErrSubscriptionExists is returned when a
// row with the same ID is already present.
func (s *Store) Add(ctx context.Context, subscriptionID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sub := Subscription{
		SubscriptionID: subscriptionID,
		OwnerID:        ownerID,
	}

	value, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(subscriptionKey(subscriptionID))
		if err == nil {
			return ErrSubscriptionExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(subscriptionKey(subscriptionID), value); err != nil {
			return err
		}
		return txn.Set(ownerKey(ownerID, subscriptionID), nil)
	})
	if err != nil {
		if errors.Is(err, ErrSubscriptionExists) {
			s.metrics.StoreOperations.WithLabelValues("add", "conflict").Inc()
			return err
		}
		s.metrics.StoreOperations.WithLabelValues("add", "error").Inc()
		return fmt.Errorf("failed to add subscription %s: %w", subscriptionID, err)
	}

	s.metrics.StoreOperations.WithLabelValues("add", "ok").Inc()
	s.logger.Debug().
		Str("subscription_id", subscriptionID).
		Str("owner_id", ownerID).
		Msg("Subscription added")
	return nil
}

// Remove deletes a subscription row. Removing a row that does not exist is
// not an error.
func (s *Store) Remove(ctx context.Context, subscriptionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(subscriptionKey(subscriptionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		var sub Subscription
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sub)
		}); err != nil {
			return err
		}

		if err := txn.Delete(ownerKey(sub.OwnerID, subscriptionID)); err != nil {
			return err
		}
		return txn.Delete(subscriptionKey(subscriptionID))
	})
	if err != nil {
		s.metrics.StoreOperations.WithLabelValues("remove", "error").Inc()
		return fmt.Errorf("failed to remove subscription %s: %w", subscriptionID, err)
	}

	if s.cache != nil {
		s.cache.Remove(subscriptionID)
	}

	s.metrics.StoreOperations.WithLabelValues("remove", "ok").Inc()
	s.logger.Debug().Str("subscription_id", subscriptionID).Msg("Subscription removed")
	return nil
}

// Close releases the underlying database
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing subscription store")
	return s.db.Close()
}

func subscriptionKey(subscriptionID string) []byte {
	return []byte(prefixSubscription + subscriptionID)
}

func ownerKey(ownerID, subscriptionID string) []byte {
	return []byte(prefixOwner + ownerID + ":" + subscriptionID)
}
