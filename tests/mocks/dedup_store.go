package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	eventDomain "github.com/davicafu/eventlab/internal/event/domain"
	"github.com/stretchr/testify/mock"
)

// InMemoryDedupStore simula DedupStore con la misma semántica atómica de
// check-and-insert que los adapters reales. Permite inyectar fallos y
// latencia para los tests de reintentos y backpressure.
type InMemoryDedupStore struct {
	mu      sync.Mutex
	records map[string]*eventDomain.DedupRecord
	order   []string // orden de inserción

	failWith error         // si no es nil, TryInsert/Ping fallan con este error
	delay    time.Duration // latencia artificial por llamada a TryInsert
}

var _ eventDomain.DedupStore = (*InMemoryDedupStore)(nil)

func NewInMemoryDedupStore() *InMemoryDedupStore {
	return &InMemoryDedupStore{
		records: make(map[string]*eventDomain.DedupRecord),
	}
}

// FailWith hace que las próximas llamadas fallen (nil restablece el store).
func (s *InMemoryDedupStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// StallFor añade latencia artificial a cada TryInsert.
func (s *InMemoryDedupStore) StallFor(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *InMemoryDedupStore) TryInsert(ctx context.Context, e eventDomain.Event) (bool, error) {
	s.mu.Lock()
	failWith, delay := s.failWith, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if failWith != nil {
		return false, fmt.Errorf("%w: %v", eventDomain.ErrStoreUnavailable, failWith)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[e.EventID]; ok {
		return false, nil
	}
	rec := eventDomain.NewDedupRecord(e)
	rec.Seq = int64(len(s.order) + 1)
	s.records[e.EventID] = &rec
	s.order = append(s.order, e.EventID)
	return true, nil
}

func (s *InMemoryDedupStore) List(ctx context.Context, f eventDomain.EventFilter) ([]eventDomain.DedupRecord, error) {
	f = f.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	var all []eventDomain.DedupRecord
	for _, id := range s.order {
		rec := s.records[id]
		if f.Topic != nil && rec.Topic != *f.Topic {
			continue
		}
		all = append(all, *rec)
	}

	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (s *InMemoryDedupStore) FetchUnforwarded(ctx context.Context, limit int) ([]eventDomain.DedupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []eventDomain.DedupRecord
	for _, id := range s.order {
		if rec := s.records[id]; !rec.Forwarded {
			pending = append(pending, *rec)
			if len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}

func (s *InMemoryDedupStore) MarkForwarded(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[eventID]
	if !ok {
		return fmt.Errorf("no dedup record found with event_id %s", eventID)
	}
	rec.Forwarded = true
	return nil
}

func (s *InMemoryDedupStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return fmt.Errorf("%w: %v", eventDomain.ErrStoreUnavailable, s.failWith)
	}
	return nil
}

func (s *InMemoryDedupStore) Close() error { return nil }

// Len devuelve el número de registros persistidos (solo para asserts).
func (s *InMemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ---------------- Mock basado en testify ----------------

// MockDedupStore simula el store con expectativas explícitas.
type MockDedupStore struct {
	mock.Mock
}

func (m *MockDedupStore) TryInsert(ctx context.Context, e eventDomain.Event) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupStore) List(ctx context.Context, f eventDomain.EventFilter) ([]eventDomain.DedupRecord, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]eventDomain.DedupRecord), args.Error(1)
}

func (m *MockDedupStore) FetchUnforwarded(ctx context.Context, limit int) ([]eventDomain.DedupRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]eventDomain.DedupRecord), args.Error(1)
}

func (m *MockDedupStore) MarkForwarded(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockDedupStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDedupStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
