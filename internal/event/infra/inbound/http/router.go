package http

import "github.com/gin-gonic/gin"

func RegisterEventRoutes(r *gin.Engine, handler *EventHandler) {
	r.POST("/publish", handler.PublishEvents)
	r.GET("/events", handler.ListEvents)
	r.GET("/stats", handler.GetStats)
	r.GET("/health", handler.HealthCheck)
	r.GET("/analytics/trend", handler.GetTopicTrend)
}
