package domain

import (
	"fmt"
	"time"
)

// Event es la unidad lógica que entra por la frontera de ingesta.
// El event_id es opaco y globalmente único por ocurrencia lógica: es la
// clave de deduplicación de todo el pipeline.
type Event struct {
	EventID   string                 `json:"event_id"`
	Topic     string                 `json:"topic"`
	Source    string                 `json:"source"`
	Timestamp string                 `json:"timestamp"` // ISO8601, asignado por el productor
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Validate comprueba la forma estructural del evento. No valida el contenido
// del payload ni compara el timestamp contra el reloj local.
func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	if e.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidEvent)
	}
	if e.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidEvent)
	}
	if e.Timestamp == "" {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp must be valid ISO8601", ErrInvalidEvent)
	}
	return nil
}

// PartitionKey permite que los publishers particionen por identidad del evento.
func (e Event) PartitionKey() string {
	return e.EventID
}

// DedupRecord es el registro persistido por el Dedup Store. Una vez escrito es
// inmutable: un evento posterior con el mismo event_id se descarta, nunca se
// fusiona ni se sobreescribe.
type DedupRecord struct {
	Seq         int64                  `json:"-"` // orden de inserción (backends SQL)
	EventID     string                 `json:"event_id"`
	Topic       string                 `json:"topic"`
	Source      string                 `json:"source"`
	Timestamp   string                 `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	ProcessedAt time.Time              `json:"processed_at"`
	Forwarded   bool                   `json:"-"`
}

// NewDedupRecord construye el registro a persistir a partir de un evento.
func NewDedupRecord(e Event) DedupRecord {
	return DedupRecord{
		EventID:     e.EventID,
		Topic:       e.Topic,
		Source:      e.Source,
		Timestamp:   e.Timestamp,
		Payload:     e.Payload,
		ProcessedAt: time.Now().UTC(),
	}
}

// AsEvent reconstruye el evento lógico desde el registro persistido.
func (r DedupRecord) AsEvent() Event {
	return Event{
		EventID:   r.EventID,
		Topic:     r.Topic,
		Source:    r.Source,
		Timestamp: r.Timestamp,
		Payload:   r.Payload,
	}
}
