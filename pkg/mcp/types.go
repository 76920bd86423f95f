package mcp

import (
	"encoding/json"
	"time"

	"github.com/urmzd/ecovent/pkg/device"
)

// GetHealthOutput is the output for the get_health tool
type GetHealthOutput struct {
	Status     string `json:"status" jsonschema:"description=Overall health status (healthy or unhealthy)"`
	Controller string `json:"controller" jsonschema:"description=Fan controller status"`
	Devices    int    `json:"devices" jsonschema:"description=Registered fans"`
	Available  int    `json:"available" jsonschema:"description=Fans that answered their last poll"`
	Timestamp  string `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// ListDevicesOutput is the output for the list_devices tool
type ListDevicesOutput struct {
	Devices []DeviceInfo `json:"devices" jsonschema:"description=Registered fans"`
	Count   int          `json:"count" jsonschema:"description=Total number of fans"`
}

// DeviceInfo represents a fan in tool outputs
type DeviceInfo struct {
	ID           string          `json:"id" jsonschema:"description=Registration ID"`
	Name         string          `json:"name" jsonschema:"description=User-friendly fan name"`
	Type         string          `json:"type" jsonschema:"description=Device type"`
	Manufacturer string          `json:"manufacturer,omitempty" jsonschema:"description=Device manufacturer"`
	Model        string          `json:"model,omitempty" jsonschema:"description=Unit type reported by the fan"`
	Address      string          `json:"address,omitempty" jsonschema:"description=IP address"`
	HardwareID   string          `json:"hardware_id,omitempty" jsonschema:"description=16-character device ID"`
	Firmware     string          `json:"firmware,omitempty" jsonschema:"description=Firmware version"`
	Available    bool            `json:"available" jsonschema:"description=Whether the last poll succeeded"`
	LastSeen     *time.Time      `json:"last_seen,omitempty" jsonschema:"description=Time of the last successful read"`
	Actions      []string        `json:"actions,omitempty" jsonschema:"description=Supported one-shot actions"`
	StateSchema  json.RawMessage `json:"state_schema,omitempty" jsonschema:"description=JSON Schema for settable state"`
	State        map[string]any  `json:"state,omitempty" jsonschema:"description=Last polled state"`
}

// GetDeviceOutput is the output for the get_device tool
type GetDeviceOutput struct {
	Device DeviceInfo `json:"device" jsonschema:"description=Fan information"`
}

// MessageOutput is the output for tools that only report success
type MessageOutput struct {
	Success bool   `json:"success" jsonschema:"description=Whether the operation succeeded"`
	Message string `json:"message" jsonschema:"description=Status message"`
}

// StateOutput is the output for get_device_state, set_device_state, turn_on and turn_off
type StateOutput struct {
	DeviceID string         `json:"device_id" jsonschema:"description=Fan identifier as given"`
	State    map[string]any `json:"state" jsonschema:"description=Fan state"`
}

// ActionOutput is the output for reset_filter_timer and reset_alarms
type ActionOutput struct {
	DeviceID string         `json:"device_id" jsonschema:"description=Fan identifier as given"`
	Action   string         `json:"action" jsonschema:"description=Action that ran"`
	State    map[string]any `json:"state" jsonschema:"description=Fan state after the action"`
}

// SearchDevicesOutput is the output for the search_devices tool
type SearchDevicesOutput struct {
	Devices        []DeviceInfo `json:"devices" jsonschema:"description=Unregistered fans that answered"`
	Count          int          `json:"count" jsonschema:"description=Number of fans found"`
	TimeoutSeconds int          `json:"timeout_seconds" jsonschema:"description=How long the search waited"`
}

// DeviceToInfo converts a device.Device to DeviceInfo
func DeviceToInfo(d *device.Device) DeviceInfo {
	info := DeviceInfo{
		ID:           d.ID,
		Name:         d.Name,
		Type:         d.Type,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Address:      d.Address,
		HardwareID:   d.HardwareID,
		Firmware:     d.Firmware,
		Available:    d.Available,
	}
	if !d.LastSeen.IsZero() {
		t := d.LastSeen
		info.LastSeen = &t
	}
	return info
}
