package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ecovent/pkg/api/types"
	"github.com/urmzd/ecovent/pkg/device"
)

// writeError maps controller errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "controller_error"
	switch {
	case errors.Is(err, device.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, device.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, device.ErrUnsupported):
		status, code = http.StatusBadRequest, "unsupported"
	case errors.Is(err, device.ErrAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, device.ErrUnreachable):
		status, code = http.StatusServiceUnavailable, "device_unreachable"
	case errors.Is(err, device.ErrNotConnected):
		status, code = http.StatusServiceUnavailable, "controller_disconnected"
	case errors.Is(err, device.ErrTimeout):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	c.JSON(status, types.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}

func toDeviceWithState(d device.Device, state device.DeviceState) types.DeviceWithState {
	dws := types.DeviceWithState{
		ID:           d.ID,
		Name:         d.Name,
		Type:         d.Type,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Address:      d.Address,
		HardwareID:   d.HardwareID,
		Firmware:     d.Firmware,
		Available:    d.Available,
		Actions:      d.Actions,
		StateSchema:  d.StateSchema,
		State:        state,
	}
	if !d.LastSeen.IsZero() {
		seen := d.LastSeen
		dws.LastSeen = &seen
	}
	return dws
}
