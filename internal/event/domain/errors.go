package domain

import "errors"

var (
	// ErrInvalidEvent marca un evento estructuralmente inválido: se rechaza
	// en la fachada y nunca llega a la cola ni al store.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrQueueFull se devuelve cuando la cola no acepta el evento tras la
	// espera acotada de backpressure.
	ErrQueueFull = errors.New("event queue full")

	// ErrStoreUnavailable indica un fallo del almacenamiento durante
	// TryInsert. Nunca debe confundirse con "duplicado" ni con "insertado".
	ErrStoreUnavailable = errors.New("dedup store unavailable")

	// ErrShuttingDown se devuelve a quien publica cuando el pipeline ya no
	// acepta eventos nuevos.
	ErrShuttingDown = errors.New("pipeline shutting down")
)
