package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/domain"
	"github.com/davicafu/eventlab/tests/mocks"
)

func cachedEvent(id string) domain.Event {
	return domain.Event{
		EventID:   id,
		Topic:     "cache.test",
		Source:    "cache-test",
		Timestamp: "2025-10-19T10:30:00Z",
	}
}

func TestCachedStore_HitShortCircuitsStore(t *testing.T) {
	cacheMock := mocks.NewDummyCache()
	require.NoError(t, cacheMock.Set(context.Background(), domain.SeenCacheKey("evt_hot"), true, 0))

	// Sin expectativas sobre el store: si se llegase a llamar, el mock falla.
	store := new(mocks.MockDedupStore)
	cached := NewCachedDedupStore(store, cacheMock, 60, zap.NewNop())

	inserted, err := cached.TryInsert(context.Background(), cachedEvent("evt_hot"))
	require.NoError(t, err)
	assert.False(t, inserted)
	store.AssertExpectations(t)
}

func TestCachedStore_MissFallsThroughAndPopulates(t *testing.T) {
	cacheMock := mocks.NewDummyCache()
	store := mocks.NewInMemoryDedupStore()
	cached := NewCachedDedupStore(store, cacheMock, 60, zap.NewNop())

	inserted, err := cached.TryInsert(context.Background(), cachedEvent("evt_cold"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// El marcador se escribe en background tras el resultado durable
	assert.Eventually(t, func() bool {
		var seen bool
		hit, err := cacheMock.Get(context.Background(), domain.SeenCacheKey("evt_cold"), &seen)
		return err == nil && hit && seen
	}, time.Second, 10*time.Millisecond)

	inserted, err = cached.TryInsert(context.Background(), cachedEvent("evt_cold"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCachedStore_StoreErrorDoesNotPopulateCache(t *testing.T) {
	cacheMock := mocks.NewDummyCache()
	store := mocks.NewInMemoryDedupStore()
	store.FailWith(assert.AnError)
	cached := NewCachedDedupStore(store, cacheMock, 60, zap.NewNop())

	_, err := cached.TryInsert(context.Background(), cachedEvent("evt_err"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	var seen bool
	hit, err := cacheMock.Get(context.Background(), domain.SeenCacheKey("evt_err"), &seen)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_TTLExpiry(t *testing.T) {
	c := NewInMemoryCache(20*time.Millisecond, time.Minute)
	defer c.Stop()

	require.NoError(t, c.Set(context.Background(), "k", true, 0))

	var v bool
	hit, err := c.Get(context.Background(), "k", &v)
	require.NoError(t, err)
	assert.True(t, hit)

	time.Sleep(40 * time.Millisecond)
	hit, err = c.Get(context.Background(), "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}
