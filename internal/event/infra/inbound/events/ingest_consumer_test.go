package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/application"
	eventDomain "github.com/davicafu/eventlab/internal/event/domain"
)

type fakePublisher struct {
	batches [][]eventDomain.Event
}

func (f *fakePublisher) Publish(ctx context.Context, events []eventDomain.Event) (application.PublishResult, error) {
	f.batches = append(f.batches, events)
	return application.PublishResult{Accepted: len(events)}, nil
}

func TestHandleMessage_Batch(t *testing.T) {
	pub := &fakePublisher{}
	consumer := NewIngestConsumer(pub, zap.NewNop())

	payload := []byte(`{"events":[
		{"event_id":"evt_1","topic":"t","source":"s","timestamp":"2025-10-19T10:30:00Z"},
		{"event_id":"evt_2","topic":"t","source":"s","timestamp":"2025-10-19T10:31:00Z"}
	]}`)

	consumer.HandleMessage(context.Background(), "k", payload)

	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
	assert.Equal(t, "evt_1", pub.batches[0][0].EventID)
}

func TestHandleMessage_SingleEvent(t *testing.T) {
	pub := &fakePublisher{}
	consumer := NewIngestConsumer(pub, zap.NewNop())

	payload := []byte(`{"event_id":"evt_solo","topic":"t","source":"s","timestamp":"2025-10-19T10:30:00Z"}`)
	consumer.HandleMessage(context.Background(), "k", payload)

	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 1)
	assert.Equal(t, "evt_solo", pub.batches[0][0].EventID)
}

func TestHandleMessage_Garbage(t *testing.T) {
	pub := &fakePublisher{}
	consumer := NewIngestConsumer(pub, zap.NewNop())

	consumer.HandleMessage(context.Background(), "k", []byte(`esto no es JSON`))
	consumer.HandleMessage(context.Background(), "k", []byte(`{}`))

	assert.Empty(t, pub.batches)
}
