package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ecovent/pkg/api/types"
	"github.com/urmzd/ecovent/pkg/device"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	controller device.Controller
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(controller device.Controller) *HealthHandler {
	return &HealthHandler{controller: controller}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the health status of the API and the fan controller
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Service is healthy"
// @Failure      503  {object}  types.HealthResponse  "Service is degraded"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := types.HealthResponse{
		Status:     "healthy",
		Controller: "connected",
		Timestamp:  time.Now(),
	}
	httpStatus := http.StatusOK

	if !h.controller.IsConnected() {
		resp.Status = "degraded"
		resp.Controller = "disconnected"
		httpStatus = http.StatusServiceUnavailable
	} else if devices, err := h.controller.ListDevices(c.Request.Context()); err == nil {
		resp.Devices = len(devices)
	}

	c.JSON(httpStatus, resp)
}
