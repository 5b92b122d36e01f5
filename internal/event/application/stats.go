package application

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats agrega los contadores del pipeline. Es un agregado explícito que se
// pasa a la fachada y a los workers; no hay estado global.
//
// Cada contador se actualiza de forma atómica e independiente: los lectores
// toleran consistencia eventual entre contadores, así que no hace falta una
// transacción que los cruce.
type Stats struct {
	received         atomic.Int64
	uniqueProcessed  atomic.Int64
	duplicateDropped atomic.Int64
	rejected         atomic.Int64
	storeFailures    atomic.Int64

	mu     sync.Mutex
	topics map[string]int64

	startTime time.Time
}

// StatsSnapshot es la vista puntual que consume el endpoint /stats.
type StatsSnapshot struct {
	Received         int64            `json:"received"`
	UniqueProcessed  int64            `json:"unique_processed"`
	DuplicateDropped int64            `json:"duplicate_dropped"`
	Rejected         int64            `json:"rejected"`
	StoreFailures    int64            `json:"store_failures"`
	Topics           map[string]int64 `json:"topics"`
	Uptime           float64          `json:"uptime"` // segundos
}

func NewStats() *Stats {
	return &Stats{
		topics:    make(map[string]int64),
		startTime: time.Now(),
	}
}

func (s *Stats) IncReceived()         { s.received.Add(1) }
func (s *Stats) IncDuplicateDropped() { s.duplicateDropped.Add(1) }
func (s *Stats) IncRejected()         { s.rejected.Add(1) }
func (s *Stats) IncStoreFailures()    { s.storeFailures.Add(1) }

// IncUniqueProcessed suma el evento único y su contador por topic.
func (s *Stats) IncUniqueProcessed(topic string) {
	s.uniqueProcessed.Add(1)

	s.mu.Lock()
	s.topics[topic]++
	s.mu.Unlock()
}

// Snapshot devuelve una foto puntual de los contadores. No promete
// consistencia estricta entre contadores leídos juntos.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	topics := make(map[string]int64, len(s.topics))
	for k, v := range s.topics {
		topics[k] = v
	}
	s.mu.Unlock()

	return StatsSnapshot{
		Received:         s.received.Load(),
		UniqueProcessed:  s.uniqueProcessed.Load(),
		DuplicateDropped: s.duplicateDropped.Load(),
		Rejected:         s.rejected.Load(),
		StoreFailures:    s.storeFailures.Load(),
		Topics:           topics,
		Uptime:           time.Since(s.startTime).Seconds(),
	}
}
