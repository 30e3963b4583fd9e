package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prodforms/formcap-api/internal/service"
	"github.com/prodforms/formcap-api/pkg/response"
)

// MetricsHandler serves the observability endpoints. All of them degrade
// to 503 when the server runs without a metrics service.
type MetricsHandler struct {
	metrics *service.MetricsService
}

func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

func (h *MetricsHandler) ready(c *gin.Context) bool {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return false
	}
	return true
}

// Prometheus exposes the registry in the Prometheus text format.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Snapshot godoc
// @Summary System metrics snapshot
// @Description Aggregated request, cache and export counters
// @Tags Metrics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/summary [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}

// Health answers readiness and liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
