package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/domain"
	"github.com/davicafu/eventlab/tests/mocks"
)

func testEvent(id, topic string) domain.Event {
	return domain.Event{
		EventID:   id,
		Topic:     topic,
		Source:    "test-suite",
		Timestamp: "2025-10-19T10:30:00Z",
	}
}

func testConfig() AggregatorConfig {
	return AggregatorConfig{
		Workers:         3,
		QueueCapacity:   16,
		EnqueueTimeout:  50 * time.Millisecond,
		StoreRetries:    2,
		StoreRetryDelay: 10 * time.Millisecond,
	}
}

func startAggregator(t *testing.T, store domain.DedupStore, cfg AggregatorConfig) (*Aggregator, *Stats) {
	t.Helper()
	stats := NewStats()
	agg := NewAggregator(store, stats, cfg, zap.NewNop())
	agg.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		agg.Stop(ctx)
	})
	return agg, stats
}

// drained espera a que la cola converja: received == unique + dup + rejected + fallos.
func drained(stats *Stats) func() bool {
	return func() bool {
		s := stats.Snapshot()
		return s.Received == s.UniqueProcessed+s.DuplicateDropped+s.Rejected+s.StoreFailures
	}
}

func TestPublish_IntraBatchDedup(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	agg, stats := startAggregator(t, store, testConfig())

	res, err := agg.Publish(context.Background(), []domain.Event{
		testEvent("evt_1", "user.created"),
		testEvent("evt_1", "user.created"),
	})
	require.NoError(t, err)

	// El duplicado dentro del lote se resuelve de forma síncrona
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.DuplicatesImmediate)
	assert.Equal(t, 0, res.Rejected)

	assert.Eventually(t, drained(stats), 2*time.Second, 10*time.Millisecond)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.UniqueProcessed)
	assert.Equal(t, int64(1), snap.DuplicateDropped)
	assert.Equal(t, 1, store.Len())
}

func TestPublish_ValidationReject(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	agg, stats := startAggregator(t, store, testConfig())

	res, err := agg.Publish(context.Background(), []domain.Event{
		{EventID: "", Topic: "t", Source: "s", Timestamp: "2025-10-19T10:30:00Z"},
		{EventID: "evt_ok", Topic: "t", Source: "s", Timestamp: "no es una fecha"},
		testEvent("evt_2", "t"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 0, res.DuplicatesImmediate)

	assert.Eventually(t, drained(stats), 2*time.Second, 10*time.Millisecond)

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.Received)
	assert.Equal(t, int64(2), snap.Rejected)
	assert.Equal(t, int64(1), snap.UniqueProcessed)
	assert.Equal(t, 1, store.Len())
}

func TestPublish_Idempotence_AcrossBatches(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	agg, stats := startAggregator(t, store, testConfig())

	// El mismo evento publicado N veces en lotes separados: cada lote lo ve
	// como único dentro del lote, el store lo resuelve como duplicado.
	const attempts = 5
	for i := 0; i < attempts; i++ {
		res, err := agg.Publish(context.Background(), []domain.Event{testEvent("evt_idem", "payment.processed")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Accepted)
	}

	assert.Eventually(t, drained(stats), 2*time.Second, 10*time.Millisecond)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.UniqueProcessed)
	assert.Equal(t, int64(attempts-1), snap.DuplicateDropped)
	assert.Equal(t, 1, store.Len())
}

func TestPublish_Backpressure(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	store.StallFor(300 * time.Millisecond) // workers atascados

	cfg := AggregatorConfig{
		Workers:         1,
		QueueCapacity:   2,
		EnqueueTimeout:  20 * time.Millisecond,
		StoreRetries:    1,
		StoreRetryDelay: 5 * time.Millisecond,
	}
	agg, stats := startAggregator(t, store, cfg)

	var events []domain.Event
	for i := 0; i < 10; i++ {
		events = append(events, testEvent(fmt.Sprintf("evt_bp_%d", i), "burst.topic"))
	}

	res, err := agg.Publish(context.Background(), events)
	require.NoError(t, err)

	// El exceso sobre la capacidad de la cola acaba rechazado, nunca perdido
	// en silencio.
	assert.Greater(t, res.Rejected, 0)
	assert.Equal(t, len(events), res.Accepted+res.Rejected)

	store.StallFor(0)
	assert.Eventually(t, drained(stats), 5*time.Second, 20*time.Millisecond)
}

func TestProcessEvent_RetriesTransientStoreFailure(t *testing.T) {
	store := new(mocks.MockDedupStore)
	storeErr := fmt.Errorf("%w: disco lleno", domain.ErrStoreUnavailable)

	// Falla una vez, luego el reintento inserta.
	store.On("TryInsert", mock.Anything, mock.Anything).Return(false, storeErr).Once()
	store.On("TryInsert", mock.Anything, mock.Anything).Return(true, nil).Once()

	stats := NewStats()
	agg := NewAggregator(store, stats, testConfig(), zap.NewNop())
	agg.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		agg.Stop(ctx)
	}()

	_, err := agg.Publish(context.Background(), []domain.Event{testEvent("evt_retry", "t")})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return stats.Snapshot().UniqueProcessed == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.StoreFailures)
	store.AssertExpectations(t)
}

func TestProcessEvent_EscalatesPersistentStoreFailure(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	store.FailWith(errors.New("db corrupta"))

	agg, stats := startAggregator(t, store, testConfig())

	_, err := agg.Publish(context.Background(), []domain.Event{testEvent("evt_fail", "t")})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return stats.Snapshot().StoreFailures == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Nunca se cuenta como procesado ni como duplicado
	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.UniqueProcessed)
	assert.Equal(t, int64(0), snap.DuplicateDropped)
}

func TestStop_DrainsQueue(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	stats := NewStats()
	agg := NewAggregator(store, stats, testConfig(), zap.NewNop())
	agg.Start(context.Background())

	var events []domain.Event
	for i := 0; i < 12; i++ {
		events = append(events, testEvent(fmt.Sprintf("evt_drain_%d", i), "drain.topic"))
	}
	res, err := agg.Publish(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, 12, res.Accepted)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	agg.Stop(ctx)

	// Todo lo encolado antes del Stop quedó persistido
	assert.Equal(t, 12, store.Len())
	assert.Equal(t, int64(12), stats.Snapshot().UniqueProcessed)

	// Tras el Stop la fachada rechaza nuevos lotes
	_, err = agg.Publish(context.Background(), []domain.Event{testEvent("evt_late", "t")})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestStop_ExpiredGraceDiscardsWithoutStoreFailures(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	store.StallFor(150 * time.Millisecond)

	stats := NewStats()
	cfg := testConfig()
	cfg.Workers = 1
	agg := NewAggregator(store, stats, cfg, zap.NewNop())
	agg.Start(context.Background())

	var events []domain.Event
	for i := 0; i < 6; i++ {
		events = append(events, testEvent(fmt.Sprintf("evt_grace_%d", i), "drain.topic"))
	}
	res, err := agg.Publish(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, 6, res.Accepted)

	// Plazo de gracia mucho menor que lo que tardaría el drenado completo.
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	agg.Stop(ctx)

	// Los items que quedaron en cola se descartan (el upstream reentrega);
	// un store sano nunca acumula fallos por el apagado.
	assert.Never(t, func() bool {
		return stats.Snapshot().StoreFailures > 0
	}, 500*time.Millisecond, 20*time.Millisecond)
}

func TestProcessEvent_CanceledContextDiscardsEvent(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	store.FailWith(errors.New("db caída"))

	stats := NewStats()
	agg := NewAggregator(store, stats, testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg.processEvent(ctx, testEvent("evt_late", "drain.topic"))

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.StoreFailures)
	assert.Equal(t, int64(0), snap.UniqueProcessed)
	assert.Equal(t, int64(0), snap.DuplicateDropped)
}

func TestListEvents_DelegatesToStore(t *testing.T) {
	store := mocks.NewInMemoryDedupStore()
	agg, stats := startAggregator(t, store, testConfig())

	_, err := agg.Publish(context.Background(), []domain.Event{
		testEvent("evt_a", "topic.a"),
		testEvent("evt_b", "topic.b"),
	})
	require.NoError(t, err)
	assert.Eventually(t, drained(stats), 2*time.Second, 10*time.Millisecond)

	topic := "topic.b"
	records, err := agg.ListEvents(context.Background(), domain.EventFilter{Topic: &topic})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "evt_b", records[0].EventID)
}
