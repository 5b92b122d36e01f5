package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/davicafu/eventlab/internal/event/application"
	"github.com/davicafu/eventlab/internal/event/domain"
	sharedUtils "github.com/davicafu/eventlab/internal/shared/infra/utils"
	"github.com/davicafu/eventlab/pkg/utils"
)

// TrendProvider expone la consulta de tendencia (solo si hay analytics configurado).
type TrendProvider interface {
	GetTopicTrend(ctx context.Context, start, end time.Time) ([]domain.TopicTrend, error)
}

// EventHandler encapsula los endpoints HTTP del pipeline de eventos.
type EventHandler struct {
	service *application.Aggregator
	trends  TrendProvider // puede ser nil
}

// NewEventHandler crea un nuevo EventHandler.
func NewEventHandler(service *application.Aggregator, trends TrendProvider) *EventHandler {
	return &EventHandler{service: service, trends: trends}
}

// ---------------- Handlers ----------------

// PublishEvents endpoint POST /publish. Acepta un evento suelto o un lote
// {"events": [...]}. La respuesta refleja solo el trabajo síncrono de la
// fachada; la resolución contra el store es asíncrona y se ve en /stats.
func (h *EventHandler) PublishEvents(c *gin.Context) {
	events, ok := bindEvents(c)
	if !ok {
		return
	}

	res, err := h.service.Publish(c.Request.Context(), events)
	if err != nil {
		if err == domain.ErrShuttingDown {
			utils.SendError(c, http.StatusServiceUnavailable, "service is shutting down")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}

	message := sharedUtils.Ternary(len(events) == 1,
		"Processed 1 event",
		fmt.Sprintf("Processed %d events", len(events)))

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": message,
		"details": res,
	})
}

// ListEvents endpoint GET /events?topic=&limit=&offset=
func (h *EventHandler) ListEvents(c *gin.Context) {
	filter := domain.EventFilter{}

	if topic := c.Query("topic"); topic != "" {
		filter.Topic = &topic
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			utils.SendBadRequest(c, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			utils.SendBadRequest(c, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	records, err := h.service.ListEvents(c.Request.Context(), filter)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	if records == nil {
		records = []domain.DedupRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"count":  len(records),
		"events": records,
	})
}

// GetStats endpoint GET /stats
func (h *EventHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Snapshot())
}

// HealthCheck endpoint GET /health. Un fallo persistente del store se ve
// aquí, no por petición de publish (el procesado es asíncrono).
func (h *EventHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Healthy(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "eventlab",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetTopicTrend endpoint GET /analytics/trend?days=7
func (h *EventHandler) GetTopicTrend(c *gin.Context) {
	if h.trends == nil {
		utils.SendNotFound(c, "analytics not configured")
		return
	}

	days := 7
	if daysStr := c.Query("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d <= 0 {
			utils.SendBadRequest(c, "invalid days")
			return
		}
		days = d
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	trends, err := h.trends.GetTopicTrend(c.Request.Context(), start, end)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"trends": trends,
	})
}

// ---------------- Helpers ----------------

// bindEvents decodifica el cuerpo como lote o como evento suelto.
func bindEvents(c *gin.Context) ([]domain.Event, bool) {
	var batch struct {
		Events []domain.Event `json:"events"`
	}
	if err := c.ShouldBindBodyWith(&batch, binding.JSON); err == nil && len(batch.Events) > 0 {
		return batch.Events, true
	}

	var single domain.Event
	if err := c.ShouldBindBodyWith(&single, binding.JSON); err != nil {
		utils.SendBadRequest(c, "invalid JSON body")
		return nil, false
	}
	if single.EventID == "" && single.Topic == "" {
		utils.SendBadRequest(c, "body must be an event or {\"events\": [...]}")
		return nil, false
	}
	return []domain.Event{single}, true
}
