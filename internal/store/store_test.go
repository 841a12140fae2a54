package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{
		DataDir:      t.TempDir(),
		CacheEnabled: true,
		CacheSize:    100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "sub-1", "user-1"))

	sub, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub-1", sub.SubscriptionID)
	assert.Equal(t, "user-1", sub.OwnerID)
}

func TestGetAbsentReturnsNilWithoutError(t *testing.T) {
	s := newTestStore(t)

	sub, err := s.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestGetUsesCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "sub-1", "user-1"))

	// First lookup populates the cache, second is served from it
	_, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)

	_, found := s.cache.Get("sub-1")
	assert.True(t, found)

	sub, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub.OwnerID)
}

func TestAddDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "sub-1", "user-1"))

	err := s.Add(ctx, "sub-1", "user-2")
	assert.ErrorIs(t, err, ErrSubscriptionExists)

	// Original row is untouched
	sub, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub.OwnerID)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "sub-1", "user-1"))
	require.NoError(t, s.Remove(ctx, "sub-1"))

	sub, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, sub)

	// Removing again succeeds
	require.NoError(t, s.Remove(ctx, "sub-1"))
}

func TestRemoveClearsOwnerIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "sub-1", AppOnlyOwner))
	require.NoError(t, s.Remove(ctx, "sub-1"))

	subs, err := s.ListByOwner(ctx, AppOnlyOwner)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestListByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "sub-1", "user-1"))
	require.NoError(t, s.Add(ctx, "sub-2", "user-1"))
	require.NoError(t, s.Add(ctx, "sub-3", AppOnlyOwner))

	subs, err := s.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	ids := []string{subs[0].SubscriptionID, subs[1].SubscriptionID}
	assert.ElementsMatch(t, []string{"sub-1", "sub-2"}, ids)

	appSubs, err := s.ListByOwner(ctx, AppOnlyOwner)
	require.NoError(t, err)
	require.Len(t, appSubs, 1)
	assert.Equal(t, "sub-3", appSubs[0].SubscriptionID)
}

func TestListByOwnerEmpty(t *testing.T) {
	s := newTestStore(t)

	subs, err := s.ListByOwner(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			assert.NoError(t, s.Add(ctx, "sub-"+id, "user-1"))
			_, err := s.Get(ctx, "sub-"+id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	subs, err := s.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, subs, 10)
}
