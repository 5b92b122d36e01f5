package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validEvent() Event {
	return Event{
		EventID:   "evt_000001",
		Topic:     "user.created",
		Source:    "auth-service",
		Timestamp: "2025-10-19T10:30:00Z",
		Payload:   map[string]interface{}{"user_id": 42},
	}
}

func TestEventValidate_Success(t *testing.T) {
	assert.NoError(t, validEvent().Validate())
}

func TestEventValidate_MissingFields(t *testing.T) {
	cases := map[string]func(*Event){
		"event_id":  func(e *Event) { e.EventID = "" },
		"topic":     func(e *Event) { e.Topic = "" },
		"source":    func(e *Event) { e.Source = "" },
		"timestamp": func(e *Event) { e.Timestamp = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := validEvent()
			mutate(&e)
			assert.ErrorIs(t, e.Validate(), ErrInvalidEvent)
		})
	}
}

func TestEventValidate_BadTimestamp(t *testing.T) {
	e := validEvent()
	e.Timestamp = "ayer por la tarde"
	assert.ErrorIs(t, e.Validate(), ErrInvalidEvent)
}

func TestNewDedupRecord(t *testing.T) {
	e := validEvent()
	r := NewDedupRecord(e)

	assert.Equal(t, e.EventID, r.EventID)
	assert.Equal(t, e.Topic, r.Topic)
	assert.Equal(t, e.Source, r.Source)
	assert.Equal(t, e.Timestamp, r.Timestamp)
	assert.False(t, r.ProcessedAt.IsZero())
	assert.False(t, r.Forwarded)

	// El registro debe reconstruir el evento original
	assert.Equal(t, e, r.AsEvent())
}

func TestEventFilter_Normalize(t *testing.T) {
	f := EventFilter{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, DefaultListLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)

	f = EventFilter{Limit: 5, Offset: 10}.Normalize()
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 10, f.Offset)
}
