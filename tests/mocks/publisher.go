package mocks

import (
	"context"
	"sync"

	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
	"github.com/stretchr/testify/mock"
)

// MockPublisher simula un publisher con expectativas explícitas.
type MockPublisher struct {
	mock.Mock
}

var _ sharedBus.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, event interface{}) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// CapturingPublisher acumula los eventos publicados para hacer asserts.
type CapturingPublisher struct {
	mu     sync.Mutex
	Events []interface{}
}

var _ sharedBus.EventPublisher = (*CapturingPublisher)(nil)

func (p *CapturingPublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
	return nil
}

func (p *CapturingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Events)
}
