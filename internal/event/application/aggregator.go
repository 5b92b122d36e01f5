package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eventlab/internal/event/domain"
	utils "github.com/davicafu/eventlab/internal/shared/infra/utils"
)

// PublishResult es la respuesta síncrona de la fachada de ingesta. Solo
// refleja trabajo en memoria: un evento "accepted" todavía puede resultar
// duplicado a nivel de store y eso únicamente se verá en /stats.
type PublishResult struct {
	Accepted            int `json:"accepted"`
	Rejected            int `json:"rejected"`
	DuplicatesImmediate int `json:"duplicates_immediate"`
}

// AggregatorConfig agrupa los parámetros del pipeline.
type AggregatorConfig struct {
	Workers         int           // consumidores concurrentes (fijo durante la vida del pipeline)
	QueueCapacity   int           // capacidad de la cola acotada
	EnqueueTimeout  time.Duration // espera máxima de backpressure en la ruta de ingesta
	StoreRetries    int           // reintentos ante ErrStoreUnavailable
	StoreRetryDelay time.Duration
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 4 * c.Workers
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 200 * time.Millisecond
	}
	if c.StoreRetries <= 0 {
		c.StoreRetries = 3
	}
	if c.StoreRetryDelay <= 0 {
		c.StoreRetryDelay = 100 * time.Millisecond
	}
	return c
}

// Aggregator es el núcleo del pipeline de ingesta: fachada síncrona, cola
// acotada y pool de workers que resuelven la deduplicación contra el store.
type Aggregator struct {
	store domain.DedupStore
	stats *Stats
	cfg   AggregatorConfig
	log   *zap.Logger

	queue chan domain.Event

	// stateMu protege accepting y ordena Publish frente a Stop: Stop solo
	// cierra la cola cuando ningún publisher puede seguir escribiendo.
	stateMu   sync.RWMutex
	accepting bool

	workerWG  sync.WaitGroup
	runCtx    context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewAggregator(store domain.DedupStore, stats *Stats, cfg AggregatorConfig, log *zap.Logger) *Aggregator {
	cfg = cfg.withDefaults()
	return &Aggregator{
		store: store,
		stats: stats,
		cfg:   cfg,
		log:   log,
		queue: make(chan domain.Event, cfg.QueueCapacity),
	}
}

// Start arranca el pool de workers. El número de workers es estático.
func (a *Aggregator) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.runCtx, a.cancel = context.WithCancel(ctx)

		a.stateMu.Lock()
		a.accepting = true
		a.stateMu.Unlock()

		for i := 0; i < a.cfg.Workers; i++ {
			a.workerWG.Add(1)
			go a.worker(i)
		}

		a.log.Info("🚀 Event aggregator iniciado",
			zap.Int("workers", a.cfg.Workers),
			zap.Int("queue_capacity", a.cfg.QueueCapacity),
		)
	})
}

// Stop detiene el pipeline: deja de aceptar eventos, drena la cola hasta el
// plazo de gracia del contexto y deja terminar las llamadas al store en vuelo.
// Los eventos que queden en la cola al agotarse el plazo se pierden; el
// productor upstream los reentregará (entrega at-least-once).
func (a *Aggregator) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		a.stateMu.Lock()
		a.accepting = false
		a.stateMu.Unlock()

		close(a.queue)

		done := make(chan struct{})
		go func() {
			a.workerWG.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.log.Info("🛑 Event aggregator detenido, cola drenada")
		case <-ctx.Done():
			a.log.Warn("⚠️ Plazo de gracia agotado, eventos restantes en cola descartados",
				zap.Int("queued", len(a.queue)))
		}
		a.cancel()
	})
}

// ---------------- Fachada de ingesta ----------------

// Publish valida el lote, deduplica dentro del propio lote (gana la primera
// aparición) y encola el resto. Devuelve los contadores del lote sin esperar
// al procesado asíncrono.
func (a *Aggregator) Publish(ctx context.Context, events []domain.Event) (PublishResult, error) {
	var res PublishResult

	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	if !a.accepting {
		return res, domain.ErrShuttingDown
	}

	seen := make(map[string]struct{}, len(events))

	for _, e := range events {
		a.stats.IncReceived()

		if err := e.Validate(); err != nil {
			res.Rejected++
			a.stats.IncRejected()
			a.log.Debug("Evento rechazado por validación",
				zap.String("event_id", e.EventID), zap.Error(err))
			continue
		}

		if _, dup := seen[e.EventID]; dup {
			res.DuplicatesImmediate++
			a.stats.IncDuplicateDropped()
			a.log.Debug("Duplicado inmediato dentro del lote",
				zap.String("event_id", e.EventID))
			continue
		}
		seen[e.EventID] = struct{}{}

		if err := a.enqueue(ctx, e); err != nil {
			res.Rejected++
			a.stats.IncRejected()
			a.log.Warn("⚠️ Backpressure: evento rechazado",
				zap.String("event_id", e.EventID), zap.Error(err))
			continue
		}
		res.Accepted++
	}

	return res, nil
}

// enqueue intenta encolar inmediatamente y, si la cola está llena, espera un
// plazo acotado antes de rendirse con ErrQueueFull. Ráfagas transitorias se
// absorben; la sobrecarga sostenida acaba rechazando hacia el caller.
func (a *Aggregator) enqueue(ctx context.Context, e domain.Event) error {
	select {
	case a.queue <- e:
		return nil
	default:
	}

	timer := time.NewTimer(a.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case a.queue <- e:
		return nil
	case <-timer.C:
		return domain.ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------- Workers ----------------

func (a *Aggregator) worker(id int) {
	defer a.workerWG.Done()
	a.log.Debug("Worker iniciado", zap.Int("worker_id", id))

	// El range termina cuando la cola se cierra y queda drenada.
	for e := range a.queue {
		a.processEvent(a.runCtx, e)
	}

	a.log.Debug("Worker detenido", zap.Int("worker_id", id))
}

// processEvent resuelve un evento contra el store con reintentos acotados.
// TryInsert es atómico: exactamente un worker observa inserted=true por cada
// event_id, sin coordinación adicional entre workers.
func (a *Aggregator) processEvent(ctx context.Context, e domain.Event) {
	var inserted bool
	err := utils.Retry(ctx, a.cfg.StoreRetries, a.cfg.StoreRetryDelay, func() error {
		var insErr error
		inserted, insErr = a.store.TryInsert(ctx, e)
		return insErr
	})
	if err != nil {
		if ctx.Err() != nil {
			// Plazo de gracia agotado: el item se descarta, no es un fallo
			// del store. El upstream lo reentregará.
			a.log.Warn("Evento descartado durante el apagado",
				zap.String("event_id", e.EventID),
				zap.String("topic", e.Topic),
			)
			return
		}

		// El evento no se cuenta como procesado ni como duplicado. La
		// reentrega at-least-once del productor es la vía de recuperación.
		a.stats.IncStoreFailures()
		a.log.Error("❌ Store no disponible, evento sin procesar",
			zap.String("event_id", e.EventID),
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	if inserted {
		a.stats.IncUniqueProcessed(e.Topic)
		a.log.Debug("Evento nuevo procesado",
			zap.String("event_id", e.EventID), zap.String("topic", e.Topic))
	} else {
		a.stats.IncDuplicateDropped()
		a.log.Debug("Duplicado descartado en worker",
			zap.String("event_id", e.EventID), zap.String("topic", e.Topic))
	}
}

// ---------------- Lecturas ----------------

// ListEvents expone los registros persistidos para el endpoint de consulta.
func (a *Aggregator) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.DedupRecord, error) {
	return a.store.List(ctx, f)
}

// Snapshot devuelve la foto actual de contadores.
func (a *Aggregator) Snapshot() StatsSnapshot {
	return a.stats.Snapshot()
}

// Healthy comprueba que el store responde.
func (a *Aggregator) Healthy(ctx context.Context) error {
	return a.store.Ping(ctx)
}
