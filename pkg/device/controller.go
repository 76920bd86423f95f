package device

import (
	"context"
	"time"
)

// Controller defines the interface for controlling smart home devices.
// The API and MCP layers only talk to devices through it.
type Controller interface {
	// ListDevices returns all registered devices
	ListDevices(ctx context.Context) ([]Device, error)

	// GetDevice returns a single device by ID or name
	GetDevice(ctx context.Context, id string) (*Device, error)

	// AddDevice contacts a device and registers it on success
	AddDevice(ctx context.Context, reg Registration) (*Device, error)

	// RenameDevice changes a device's friendly name
	RenameDevice(ctx context.Context, id, newName string) error

	// RemoveDevice unregisters a device
	RemoveDevice(ctx context.Context, id string) error

	// GetDeviceState returns the last known state of a device
	GetDeviceState(ctx context.Context, id string) (DeviceState, error)

	// SetDeviceState sets the state of a device
	SetDeviceState(ctx context.Context, id string, state map[string]any) (DeviceState, error)

	// RunAction triggers a one-shot device action such as a filter reset
	RunAction(ctx context.Context, id, action string) (DeviceState, error)

	// Discover searches the local network for devices that are not yet registered
	Discover(ctx context.Context, timeout time.Duration) ([]Device, error)

	// IsConnected returns true if the controller is ready
	IsConnected() bool

	// Close stops polling and releases all device sessions
	Close()
}

// EventSubscriber defines the interface for subscribing to device events
type EventSubscriber interface {
	// Subscribe returns a channel that receives device events
	Subscribe() chan Event

	// Unsubscribe removes a subscription
	Unsubscribe(ch chan Event)
}

// RegistrationStore persists device registrations.
type RegistrationStore interface {
	ListRegistrations(ctx context.Context) ([]Registration, error)
	CreateRegistration(ctx context.Context, reg *Registration) error
	RenameRegistration(ctx context.Context, id, name string) error
	DeleteRegistration(ctx context.Context, id string) error
}
