package domain

import (
	"context"
	"fmt"
	"time"
)

// ---------- Interfaces (Ports) ----------

// DedupStore es la única fuente de verdad sobre "este evento ya fue procesado".
// TryInsert es el punto de sincronización entre workers: convierte entrega
// at-least-once en efecto exactly-once sobre el almacenamiento.
type DedupStore interface {
	// TryInsert intenta persistir el evento de forma atómica respecto a la
	// comprobación de existencia. Bajo llamadas concurrentes con el mismo
	// event_id exactamente una devuelve (true, nil) y el resto (false, nil).
	// Un fallo de almacenamiento devuelve un error que envuelve
	// ErrStoreUnavailable; el caller no debe interpretarlo como duplicado.
	TryInsert(ctx context.Context, e Event) (inserted bool, err error)

	// List devuelve registros en orden de inserción, paginados.
	List(ctx context.Context, f EventFilter) ([]DedupRecord, error)

	// FetchUnforwarded obtiene registros aún no reenviados downstream, hasta un máximo.
	FetchUnforwarded(ctx context.Context, limit int) ([]DedupRecord, error)

	// MarkForwarded marca un registro como reenviado.
	MarkForwarded(ctx context.Context, eventID string) error

	// Ping comprueba que el almacenamiento responde (señal de salud).
	Ping(ctx context.Context) error

	Close() error
}

// ---------- Tipos de filtrado / paginación ----------

const DefaultListLimit = 100

// EventFilter agrupa los criterios que puede usar DedupStore.List.
type EventFilter struct {
	Topic *string // si se pasa, filtra por topic exacto

	Limit  int // <=0 aplica DefaultListLimit
	Offset int
}

// Normalize aplica los valores por defecto de paginación.
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ---------- Tipos de analítica ----------

// TopicTrend es una fila de la consulta de tendencia diaria por topic.
type TopicTrend struct {
	Day   time.Time `json:"day"`
	Topic string    `json:"topic"`
	Total uint64    `json:"total"`
}

// ---------- Helpers comunes (cache keys, etc.) ----------

// SeenCacheKey forma una key consistente para el cache de ids ya confirmados.
func SeenCacheKey(eventID string) string {
	return fmt.Sprintf("event:seen:%s", eventID)
}
