package application

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_Counters(t *testing.T) {
	s := NewStats()

	s.IncReceived()
	s.IncReceived()
	s.IncUniqueProcessed("user.created")
	s.IncDuplicateDropped()
	s.IncRejected()
	s.IncStoreFailures()

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Received)
	assert.Equal(t, int64(1), snap.UniqueProcessed)
	assert.Equal(t, int64(1), snap.DuplicateDropped)
	assert.Equal(t, int64(1), snap.Rejected)
	assert.Equal(t, int64(1), snap.StoreFailures)
	assert.Equal(t, int64(1), snap.Topics["user.created"])
	assert.GreaterOrEqual(t, snap.Uptime, 0.0)
}

func TestStats_ConcurrentWriters(t *testing.T) {
	s := NewStats()

	const writers = 20
	const perWriter = 500

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				s.IncReceived()
				s.IncUniqueProcessed("order.placed")
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(writers*perWriter), snap.Received)
	assert.Equal(t, int64(writers*perWriter), snap.UniqueProcessed)
	assert.Equal(t, int64(writers*perWriter), snap.Topics["order.placed"])
}

func TestStats_SnapshotIsCopy(t *testing.T) {
	s := NewStats()
	s.IncUniqueProcessed("a.topic")

	snap := s.Snapshot()
	snap.Topics["a.topic"] = 99

	// Mutar el snapshot no debe tocar el agregado
	assert.Equal(t, int64(1), s.Snapshot().Topics["a.topic"])
}
