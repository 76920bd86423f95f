package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ecovent/pkg/api/types"
	"github.com/urmzd/ecovent/pkg/device"
)

// DevicesHandler handles device CRUD endpoints
type DevicesHandler struct {
	controller device.Controller
}

// NewDevicesHandler creates a new devices handler
func NewDevicesHandler(controller device.Controller) *DevicesHandler {
	return &DevicesHandler{controller: controller}
}

// ListDevices handles GET /devices
// @Summary      List all fans
// @Description  Returns every registered fan with its last known state
// @Tags         devices
// @Produce      json
// @Success      200  {object}  types.ListDevicesResponse
// @Failure      503  {object}  types.ErrorResponse  "Controller disconnected"
// @Failure      500  {object}  types.ErrorResponse  "Controller error"
// @Router       /devices [get]
func (h *DevicesHandler) ListDevices(c *gin.Context) {
	ctx := c.Request.Context()

	devices, err := h.controller.ListDevices(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	result := make([]types.DeviceWithState, 0, len(devices))
	for _, d := range devices {
		// Fans that never answered have no state yet
		state, _ := h.controller.GetDeviceState(ctx, d.ID)
		result = append(result, toDeviceWithState(d, state))
	}

	c.JSON(http.StatusOK, types.ListDevicesResponse{
		Devices: result,
		Count:   len(result),
	})
}

// GetDevice handles GET /devices/:id
// @Summary      Get fan details
// @Description  Returns details for a fan by registration ID, name or hardware ID
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Registration ID, name or hardware ID"
// @Success      200  {object}  types.DeviceResponse
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Failure      500  {object}  types.ErrorResponse  "Controller error"
// @Router       /devices/{id} [get]
func (h *DevicesHandler) GetDevice(c *gin.Context) {
	ctx := c.Request.Context()

	d, err := h.controller.GetDevice(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	state, _ := h.controller.GetDeviceState(ctx, d.ID)

	c.JSON(http.StatusOK, types.DeviceResponse{
		Device: toDeviceWithState(*d, state),
	})
}

// RegisterDevice handles POST /devices
// @Summary      Register a fan
// @Description  Reads the fan once and registers it if it answers
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        request  body      types.RegisterDeviceRequest  true  "Fan connection details"
// @Success      201      {object}  types.DeviceResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      409      {object}  types.ErrorResponse  "Fan already registered"
// @Failure      503      {object}  types.ErrorResponse  "Fan unreachable"
// @Router       /devices [post]
func (h *DevicesHandler) RegisterDevice(c *gin.Context) {
	ctx := c.Request.Context()

	var req types.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: "address is required",
		})
		return
	}

	d, err := h.controller.AddDevice(ctx, device.Registration{
		Name:         req.Name,
		Address:      req.Address,
		Port:         req.Port,
		Password:     req.Password,
		HardwareID:   req.DeviceID,
		PollInterval: time.Duration(req.PollIntervalSeconds) * time.Second,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	state, _ := h.controller.GetDeviceState(ctx, d.ID)

	c.JSON(http.StatusCreated, types.DeviceResponse{
		Device: toDeviceWithState(*d, state),
	})
}

// RenameDevice handles PATCH /devices/:id
// @Summary      Rename a fan
// @Description  Changes the display name of a fan
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Registration ID, name or hardware ID"
// @Param        request  body      types.RenameDeviceRequest  true  "New name"
// @Success      200      {object}  types.DeviceResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Failure      500      {object}  types.ErrorResponse  "Controller error"
// @Router       /devices/{id} [patch]
func (h *DevicesHandler) RenameDevice(c *gin.Context) {
	ctx := c.Request.Context()

	var req types.RenameDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: "name is required",
		})
		return
	}

	d, err := h.controller.GetDevice(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.controller.RenameDevice(ctx, d.ID, req.Name); err != nil {
		writeError(c, err)
		return
	}

	d, err = h.controller.GetDevice(ctx, d.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.DeviceResponse{
		Device: toDeviceWithState(*d, nil),
	})
}

// RemoveDevice handles DELETE /devices/:id
// @Summary      Remove a fan
// @Description  Stops polling a fan and deletes its registration
// @Tags         devices
// @Param        id   path  string  true  "Registration ID, name or hardware ID"
// @Success      204  "Device removed successfully"
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Failure      500  {object}  types.ErrorResponse  "Controller error"
// @Router       /devices/{id} [delete]
func (h *DevicesHandler) RemoveDevice(c *gin.Context) {
	if err := h.controller.RemoveDevice(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
