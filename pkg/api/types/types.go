package types

import (
	"encoding/json"
	"time"
)

// --- Request DTOs ---

// RegisterDeviceRequest is the request body for POST /devices
type RegisterDeviceRequest struct {
	Address             string `json:"address" binding:"required"`
	Port                int    `json:"port,omitempty"`
	Password            string `json:"password,omitempty"`
	DeviceID            string `json:"device_id,omitempty"`
	Name                string `json:"name,omitempty"`
	PollIntervalSeconds int    `json:"poll_interval_seconds,omitempty"`
}

// RenameDeviceRequest is the request body for PATCH /devices/:id
type RenameDeviceRequest struct {
	Name string `json:"name" binding:"required"`
}

// SearchRequest is the request body for POST /discovery/search
type SearchRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status     string    `json:"status"`
	Controller string    `json:"controller"`
	Devices    int       `json:"devices"`
	Timestamp  time.Time `json:"timestamp"`
}

// ListDevicesResponse is returned from GET /devices
type ListDevicesResponse struct {
	Devices []DeviceWithState `json:"devices"`
	Count   int               `json:"count"`
}

// DeviceWithState combines device info with current state
type DeviceWithState struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	Model        string          `json:"model,omitempty"`
	Address      string          `json:"address,omitempty"`
	HardwareID   string          `json:"hardware_id,omitempty"`
	Firmware     string          `json:"firmware,omitempty"`
	Available    bool            `json:"available"`
	LastSeen     *time.Time      `json:"last_seen,omitempty"`
	Actions      []string        `json:"actions,omitempty"`
	StateSchema  json.RawMessage `json:"state_schema,omitempty"`
	State        map[string]any  `json:"state,omitempty"`
}

// DeviceResponse is returned from GET /devices/:id
type DeviceResponse struct {
	Device DeviceWithState `json:"device"`
}

// StateResponse is returned from GET/POST /devices/:id/state
type StateResponse struct {
	Device    string         `json:"device"`
	State     map[string]any `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// ActionResponse is returned from POST /devices/:id/actions/:action
type ActionResponse struct {
	Device    string         `json:"device"`
	Action    string         `json:"action"`
	State     map[string]any `json:"state,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SearchResponse is returned from POST /discovery/search
type SearchResponse struct {
	Devices []DeviceWithState `json:"devices"`
	Count   int               `json:"count"`
}
