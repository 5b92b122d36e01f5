package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/domain"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
)

// AnalyticsSink recibe lotes de registros únicos ya confirmados (sink
// best-effort; un fallo aquí nunca bloquea el reenvío).
type AnalyticsSink interface {
	LogBatch(ctx context.Context, records []domain.DedupRecord) error
}

// Forwarder reenvía downstream los registros únicos que el pipeline ya
// persistió, por polling sobre el propio store. Un registro solo se marca como
// reenviado cuando el publish tuvo éxito, así que un fallo del bus lo deja
// pendiente para el siguiente ciclo.
type Forwarder struct {
	store     domain.DedupStore
	publisher sharedBus.EventPublisher
	analytics AnalyticsSink // opcional, puede ser nil
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

func NewForwarder(
	store domain.DedupStore,
	publisher sharedBus.EventPublisher,
	analytics AnalyticsSink,
	interval time.Duration,
	batchSize int,
	log *zap.Logger,
) *Forwarder {
	return &Forwarder{
		store:     store,
		publisher: publisher,
		analytics: analytics,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Start inicia el bucle de polling en una goroutine.
func (w *Forwarder) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.log.Info("🚀 Forwarder iniciado", zap.Duration("interval", w.interval))

		for {
			select {
			case <-ctx.Done():
				w.log.Info("🛑 Forwarder detenido.")
				return
			case <-ticker.C:
				w.ProcessBatch(ctx)
			}
		}
	}()
}

// ProcessBatch reenvía un lote de registros pendientes.
func (w *Forwarder) ProcessBatch(ctx context.Context) {
	records, err := w.store.FetchUnforwarded(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener registros pendientes", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}
	w.log.Info(fmt.Sprintf("📬 %d registros pendientes de reenviar", len(records)))

	forwarded := make([]domain.DedupRecord, 0, len(records))
	for _, rec := range records {
		if ok := w.publishAndMark(ctx, rec); ok {
			forwarded = append(forwarded, rec)
		}
	}

	if w.analytics != nil && len(forwarded) > 0 {
		if err := w.analytics.LogBatch(ctx, forwarded); err != nil {
			w.log.Warn("⚠️ No se pudo volcar el lote a analytics", zap.Error(err))
		}
	}
}

func (w *Forwarder) publishAndMark(ctx context.Context, rec domain.DedupRecord) bool {
	if err := w.publisher.Publish(ctx, rec.AsEvent()); err != nil {
		w.log.Warn("⚠️ No se pudo reenviar el evento",
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return false // se reintenta en el siguiente ciclo
	}

	if err := w.store.MarkForwarded(ctx, rec.EventID); err != nil {
		w.log.Warn("⚠️ No se pudo marcar el registro como reenviado",
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return false
	}

	w.log.Debug("✅ Evento reenviado y marcado", zap.String("event_id", rec.EventID))
	return true
}
