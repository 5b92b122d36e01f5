package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/domain"
	sharedCache "github.com/davicafu/eventlab/internal/shared/infra/platform/cache"
)

// CachedDedupStore decora un DedupStore con un frontal de ids ya confirmados.
// Un hit en la caché resuelve el duplicado sin tocar el almacenamiento; la
// caché solo se puebla DESPUÉS de un resultado durable, así que nunca puede
// fabricar un "inserted" falso ni declarar duplicado algo que el store no
// haya confirmado. Un miss (expiración, reinicio de Redis) simplemente cae
// al store, que sigue siendo la fuente de verdad.
type CachedDedupStore struct {
	store   domain.DedupStore
	cache   sharedCache.Cache
	ttlSecs int
	log     *zap.Logger
}

var _ domain.DedupStore = (*CachedDedupStore)(nil)

func NewCachedDedupStore(store domain.DedupStore, cache sharedCache.Cache, ttlSecs int, log *zap.Logger) *CachedDedupStore {
	return &CachedDedupStore{store: store, cache: cache, ttlSecs: ttlSecs, log: log}
}

func (c *CachedDedupStore) TryInsert(ctx context.Context, e domain.Event) (bool, error) {
	key := domain.SeenCacheKey(e.EventID)

	var seen bool
	if hit, err := c.cache.Get(ctx, key, &seen); err == nil && hit && seen {
		return false, nil // duplicado confirmado por la caché
	} else if err != nil {
		// La caché nunca es motivo de fallo: seguimos contra el store.
		c.log.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	inserted, err := c.store.TryInsert(ctx, e)
	if err != nil {
		return false, err
	}

	// Tanto inserted como duplicado son resultados durables: el id ya existe.
	sharedCache.AsyncCacheSet(ctx, c.cache, key, true, c.ttlSecs, c.log)

	return inserted, nil
}

func (c *CachedDedupStore) List(ctx context.Context, f domain.EventFilter) ([]domain.DedupRecord, error) {
	return c.store.List(ctx, f)
}

func (c *CachedDedupStore) FetchUnforwarded(ctx context.Context, limit int) ([]domain.DedupRecord, error) {
	return c.store.FetchUnforwarded(ctx, limit)
}

func (c *CachedDedupStore) MarkForwarded(ctx context.Context, eventID string) error {
	return c.store.MarkForwarded(ctx, eventID)
}

func (c *CachedDedupStore) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *CachedDedupStore) Close() error {
	return c.store.Close()
}
