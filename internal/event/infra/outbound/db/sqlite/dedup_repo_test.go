package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/eventlab/internal/event/domain"
)

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	// Misma apertura que usa el binario: Open ya serializa el pool a un
	// único escritor, la restricción real del driver modernc.
	db, err := Open(path)
	require.NoError(t, err)
	return db
}

func sampleEvent(id, topic string) domain.Event {
	return domain.Event{
		EventID:   id,
		Topic:     topic,
		Source:    "repo-test",
		Timestamp: "2025-10-19T10:30:00Z",
		Payload:   map[string]interface{}{"n": float64(1)},
	}
}

func TestTryInsert_FirstWinsSecondDuplicate(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer db.Close()
	repo := NewDedupRepoSQLite(db)

	inserted, err := repo.TryInsert(context.Background(), sampleEvent("evt_1", "t"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.TryInsert(context.Background(), sampleEvent("evt_1", "t"))
	require.NoError(t, err)
	assert.False(t, inserted)

	records, err := repo.List(context.Background(), domain.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTryInsert_ConcurrentDistinctIDs(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer db.Close()
	repo := NewDedupRepoSQLite(db)

	// Escritores concurrentes sobre ids distintos: todos deben insertar.
	// Con más de una conexión en el pool el driver devolvería SQLITE_BUSY
	// y un store sano perdería eventos.
	const writers = 5
	const perWriter = 50

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("evt_w%d_%03d", w, i)
				inserted, err := repo.TryInsert(context.Background(), sampleEvent(id, "t"))
				if err != nil {
					errs <- err
					continue
				}
				if !inserted {
					errs <- fmt.Errorf("id %s reportado como duplicado", id)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	records, err := repo.List(context.Background(), domain.EventFilter{Limit: writers * perWriter})
	require.NoError(t, err)
	assert.Len(t, records, writers*perWriter)
}

func TestTryInsert_ConcurrentSameID(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer db.Close()
	repo := NewDedupRepoSQLite(db)

	const callers = 16
	results := make(chan bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := repo.TryInsert(context.Background(), sampleEvent("evt_race", "t"))
			require.NoError(t, err)
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	// Exactamente un caller observa inserted=true, da igual el interleaving
	winners := 0
	for inserted := range results {
		if inserted {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestList_PaginationAndTopicFilter(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer db.Close()
	repo := NewDedupRepoSQLite(db)

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, err := repo.TryInsert(context.Background(), sampleEvent(id, "topic.x"))
		require.NoError(t, err)
	}
	_, err := repo.TryInsert(context.Background(), sampleEvent("evt_other", "topic.y"))
	require.NoError(t, err)

	topic := "topic.x"
	records, err := repo.List(context.Background(), domain.EventFilter{Topic: &topic, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	// Con dos o más registros del topic, limit=1 offset=1 devuelve el segundo insertado
	assert.Equal(t, "evt_b", records[0].EventID)

	records, err = repo.List(context.Background(), domain.EventFilter{Topic: &topic})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestTryInsert_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")

	db := openTestDB(t, path)
	repo := NewDedupRepoSQLite(db)
	inserted, err := repo.TryInsert(context.Background(), sampleEvent("evt_persist", "t"))
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, db.Close())

	// Reabrir el mismo fichero simula el reinicio del proceso con el volumen intacto
	db2 := openTestDB(t, path)
	defer db2.Close()
	repo2 := NewDedupRepoSQLite(db2)

	inserted, err = repo2.TryInsert(context.Background(), sampleEvent("evt_persist", "t"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestForwardedLifecycle(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "dedup.db"))
	defer db.Close()
	repo := NewDedupRepoSQLite(db)

	_, err := repo.TryInsert(context.Background(), sampleEvent("evt_fw", "t"))
	require.NoError(t, err)

	pending, err := repo.FetchUnforwarded(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt_fw", pending[0].EventID)

	require.NoError(t, repo.MarkForwarded(context.Background(), "evt_fw"))

	pending, err = repo.FetchUnforwarded(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Marcar un id inexistente es un error explícito
	assert.Error(t, repo.MarkForwarded(context.Background(), "evt_missing"))
}

func TestTryInsert_StoreUnavailable(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "dedup.db"))
	repo := NewDedupRepoSQLite(db)
	require.NoError(t, db.Close())

	_, err := repo.TryInsert(context.Background(), sampleEvent("evt_closed", "t"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.ErrorIs(t, repo.Ping(context.Background()), domain.ErrStoreUnavailable)
}
