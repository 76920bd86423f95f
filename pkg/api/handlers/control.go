package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ecovent/pkg/api/types"
	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/device/schema"
)

// ControlHandler handles fan state and action endpoints
type ControlHandler struct {
	controller device.Controller
	validator  *schema.Validator
}

// NewControlHandler creates a new control handler
func NewControlHandler(controller device.Controller, validator *schema.Validator) *ControlHandler {
	return &ControlHandler{controller: controller, validator: validator}
}

// GetState handles GET /devices/:id/state
// @Summary      Get fan state
// @Description  Returns the cached state from the last successful read
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Registration ID, name or hardware ID"
// @Success      200  {object}  types.StateResponse
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Failure      503  {object}  types.ErrorResponse  "Fan has not answered yet"
// @Router       /devices/{id}/state [get]
func (h *ControlHandler) GetState(c *gin.Context) {
	ctx := c.Request.Context()

	d, err := h.controller.GetDevice(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	state, err := h.controller.GetDeviceState(ctx, d.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.StateResponse{
		Device:    d.Name,
		State:     state,
		Timestamp: time.Now(),
	})
}

// SetState handles POST /devices/:id/state
// @Summary      Set fan state
// @Description  Writes parameters or fan entity keys, validated against the fan's state schema
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id       path      string  true  "Registration ID, name or hardware ID"
// @Param        request  body      object  true  "State to set"
// @Success      200      {object}  types.StateResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Failure      504      {object}  types.ErrorResponse  "Write not acknowledged"
// @Router       /devices/{id}/state [post]
func (h *ControlHandler) SetState(c *gin.Context) {
	ctx := c.Request.Context()

	var req map[string]any
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
		return
	}

	d, err := h.controller.GetDevice(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.validator.Validate(d.StateSchema, req); err != nil {
		writeError(c, err)
		return
	}

	state, err := h.controller.SetDeviceState(ctx, d.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.StateResponse{
		Device:    d.Name,
		State:     state,
		Timestamp: time.Now(),
	})
}

// RunAction handles POST /devices/:id/actions/:action
// @Summary      Run a fan action
// @Description  Triggers reset_filter_timer, reset_alarms or refresh
// @Tags         devices
// @Produce      json
// @Param        id      path      string  true  "Registration ID, name or hardware ID"
// @Param        action  path      string  true  "Action name"
// @Success      200     {object}  types.ActionResponse
// @Failure      400     {object}  types.ErrorResponse  "Unsupported action"
// @Failure      404     {object}  types.ErrorResponse  "Device not found"
// @Failure      504     {object}  types.ErrorResponse  "Fan did not answer"
// @Router       /devices/{id}/actions/{action} [post]
func (h *ControlHandler) RunAction(c *gin.Context) {
	ctx := c.Request.Context()
	action := c.Param("action")

	d, err := h.controller.GetDevice(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	state, err := h.controller.RunAction(ctx, d.ID, action)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.ActionResponse{
		Device:    d.Name,
		Action:    action,
		State:     state,
		Timestamp: time.Now(),
	})
}
