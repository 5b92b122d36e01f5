package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/application"
	eventDomain "github.com/davicafu/eventlab/internal/event/domain"
	sharedUtils "github.com/davicafu/eventlab/internal/shared/infra/utils"
)

// Publisher es la fachada de ingesta vista desde el consumidor de Kafka.
type Publisher interface {
	Publish(ctx context.Context, events []eventDomain.Event) (application.PublishResult, error)
}

// IngestConsumer procesa mensajes entrantes del broker y los entrega a la
// misma fachada que usa la ruta HTTP: la redelivery at-least-once de Kafka
// atraviesa exactamente el mismo camino de deduplicación.
type IngestConsumer struct {
	publisher Publisher
	log       *zap.Logger
}

func NewIngestConsumer(publisher Publisher, log *zap.Logger) *IngestConsumer {
	return &IngestConsumer{publisher: publisher, log: log}
}

// HandleMessage acepta tanto un lote {"events": [...]} como un evento suelto.
func (c *IngestConsumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	events := decodeEvents(c.log, payload)
	if len(events) == 0 {
		c.log.Warn("Mensaje entrante sin eventos", zap.String("key", key))
		return
	}

	res, err := c.publisher.Publish(ctx, events)
	if err != nil {
		c.log.Warn("No se pudo publicar el lote entrante",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	c.log.Debug("Lote entrante procesado",
		zap.String("key", key),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
		zap.Int("duplicates_immediate", res.DuplicatesImmediate),
	)
}

func decodeEvents(log *zap.Logger, payload []byte) []eventDomain.Event {
	var batch struct {
		Events []eventDomain.Event `json:"events"`
	}
	if err := json.Unmarshal(payload, &batch); err == nil && len(batch.Events) > 0 {
		return batch.Events
	}

	var out []eventDomain.Event
	sharedUtils.UnmarshalAndHandle(log, payload, func(single eventDomain.Event) {
		if single.EventID != "" {
			out = []eventDomain.Event{single}
		}
	})
	return out
}
