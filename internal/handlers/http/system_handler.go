package http

import (
	"net/http"
	"time"

	"dubsync/internal/core/ports"
	"dubsync/internal/core/services"
	"dubsync/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemHandler serves health, readiness, metrics and stats.
type SystemHandler struct {
	health   *monitoring.HealthChecker
	stats    *services.MetricsService
	events   ports.EventBroadcaster
	gatherer prometheus.Gatherer
	started  time.Time
}

func NewSystemHandler(
	health *monitoring.HealthChecker,
	stats *services.MetricsService,
	events ports.EventBroadcaster,
	gatherer prometheus.Gatherer,
) *SystemHandler {
	return &SystemHandler{
		health:   health,
		stats:    stats,
		events:   events,
		gatherer: gatherer,
		started:  time.Now(),
	}
}

func (h *SystemHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/api/v1/stats", h.Stats)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health is a liveness probe and never consults dependencies.
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *SystemHandler) Ready(c *gin.Context) {
	status := h.health.GetReadinessStatus(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SystemHandler) Stats(c *gin.Context) {
	resp := gin.H{"metrics": h.stats.Snapshot()}
	if h.events != nil {
		resp["connections"] = h.events.ConnectionCount()
	}
	c.JSON(http.StatusOK, resp)
}
