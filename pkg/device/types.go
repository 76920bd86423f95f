package device

import (
	"encoding/json"
	"time"
)

// Device represents a protocol-agnostic smart home device
type Device struct {
	ID           string          `json:"id"`                    // Registration ID
	Name         string          `json:"name"`                  // User-friendly name
	Type         string          `json:"type"`                  // Device type (fan, sensor, etc.)
	Protocol     string          `json:"protocol"`              // Protocol (wifi)
	Manufacturer string          `json:"manufacturer"`          // Device manufacturer/vendor
	Model        string          `json:"model"`                 // Device model
	Address      string          `json:"address,omitempty"`     // Network address
	HardwareID   string          `json:"hardware_id,omitempty"` // ID reported by the device itself
	Firmware     string          `json:"firmware,omitempty"`    // Firmware version
	Available    bool            `json:"available"`             // Last poll succeeded
	LastSeen     time.Time       `json:"last_seen,omitempty"`   // Last successful read
	StateSchema  json.RawMessage `json:"state_schema"`          // JSON Schema for settable state
	Exposes      json.RawMessage `json:"exposes,omitempty"`     // Raw protocol capability data
	Actions      []string        `json:"actions,omitempty"`     // Supported one-shot actions
}

// DeviceState represents the current state of a device as a dynamic map.
type DeviceState map[string]any

// Event represents a device lifecycle or state event
type Event struct {
	ID        string      `json:"id"`               // Unique event ID
	Type      string      `json:"type"`             // Event type (device_added, state_changed, etc.)
	Device    *Device     `json:"device,omitempty"` // Device information if available
	State     DeviceState `json:"state,omitempty"`  // State after the event, if any
	Error     string      `json:"error,omitempty"`  // Failure description for unavailable events
	Timestamp time.Time   `json:"timestamp"`        // When the event occurred
}

// Event types
const (
	EventDeviceAdded       = "device_added"
	EventDeviceRemoved     = "device_removed"
	EventDeviceFound       = "device_found"
	EventStateChanged      = "state_changed"
	EventDeviceUnavailable = "device_unavailable"
)

// Registration holds what is needed to reach a device on the network. It is
// persisted so devices come back after a restart.
type Registration struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Port         int           `json:"port"`
	Password     string        `json:"-"`
	HardwareID   string        `json:"hardware_id"`
	PollInterval time.Duration `json:"poll_interval"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Protocol constants
const (
	ProtocolWiFi = "wifi"
)

// Device type constants
const (
	DeviceTypeFan    = "fan"
	DeviceTypeSensor = "sensor"
)
