package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openscholar/journal-api/internal/service"
	"github.com/openscholar/journal-api/pkg/response"
)

// MetricsHandler exposes the runtime stats snapshot on the admin surface.
// The raw Prometheus endpoint is mounted separately in the router.
type MetricsHandler struct {
	metrics *service.MetricsService
}

// NewMetricsHandler creates a new handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Stats godoc
// @Summary Runtime stats
// @Description Aggregated request and session counters
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/stats [get]
func (h *MetricsHandler) Stats(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
