package vento

import (
	"context"
	"fmt"
	"sync"
)

// Fan entity keys accepted alongside raw parameter keys.
const (
	EntityPresetMode  = "preset_mode"
	EntityPercentage  = "percentage"
	EntityDirection   = "direction"
	EntityOscillating = "oscillating"
)

// Fan directions.
const (
	DirectionForward = "forward"
	DirectionReverse = "reverse"
)

// PresetModes lists the preset modes in display order.
var PresetModes = []string{SpeedLow, SpeedMedium, SpeedHigh, SpeedManual}

// Entity presents a Client as a generic fan: on/off, percentage, preset
// mode, direction and oscillation. Forward maps to ventilation, reverse to
// air supply, and oscillation to heat recovery.
type Entity struct {
	client *Client

	mu         sync.Mutex
	percentage int
	pinned     bool
}

// NewEntity wraps c.
func NewEntity(c *Client) *Entity {
	return &Entity{client: c}
}

// Client returns the wrapped client.
func (e *Entity) Client() *Client { return e.client }

func (e *Entity) IsOn() bool { return e.client.State() == StateOn }

// Percentage returns the last requested percentage, or the device's manual
// speed if none was requested.
func (e *Entity) Percentage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pinned {
		return e.percentage
	}
	return e.client.ManSpeedPercent()
}

func (e *Entity) PresetMode() string { return e.client.Speed() }

// Direction reports forward unless the unit is supplying air only.
func (e *Entity) Direction() string {
	if e.client.Airflow() == AirflowAirSupply {
		return DirectionReverse
	}
	return DirectionForward
}

func (e *Entity) Oscillating() bool { return e.client.Airflow() == AirflowHeatRecovery }

// TurnOn applies the optional preset and percentage, then switches the fan on.
func (e *Entity) TurnOn(ctx context.Context, preset string, percentage *int) error {
	if preset != "" {
		if err := e.SetPresetMode(ctx, preset); err != nil {
			return err
		}
	}
	if percentage != nil {
		if err := e.SetPercentage(ctx, *percentage); err != nil {
			return err
		}
	}
	return e.client.SetStateOn(ctx)
}

func (e *Entity) TurnOff(ctx context.Context) error {
	return e.client.SetStateOff(ctx)
}

// SetPresetMode changes the speed mode. Switching to manual also restores
// the remembered percentage.
func (e *Entity) SetPresetMode(ctx context.Context, mode string) error {
	if !validPreset(mode) {
		return fmt.Errorf("%w: preset mode %q not in %v", ErrInvalidParameter, mode, PresetModes)
	}
	if err := e.client.SetParam(ctx, KeySpeed, mode); err != nil {
		return err
	}
	if mode == SpeedManual {
		return e.client.SetManSpeedPercent(ctx, e.Percentage())
	}
	return nil
}

// SetPercentage remembers the percentage and writes it when the fan is in
// manual mode. In other modes it takes effect on the next switch to manual.
func (e *Entity) SetPercentage(ctx context.Context, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("%w: percentage %d outside [0,100]", ErrInvalidParameter, percentage)
	}
	e.mu.Lock()
	e.percentage = percentage
	e.pinned = true
	e.mu.Unlock()

	if e.client.Speed() != SpeedManual {
		return nil
	}
	return e.client.SetManSpeedPercent(ctx, percentage)
}

// SetDirection writes the airflow mode for forward or reverse. Nothing is
// sent when the unit is already in that mode.
func (e *Entity) SetDirection(ctx context.Context, direction string) error {
	var airflow string
	switch direction {
	case DirectionForward:
		airflow = AirflowVentilation
	case DirectionReverse:
		airflow = AirflowAirSupply
	default:
		return fmt.Errorf("%w: direction %q", ErrInvalidParameter, direction)
	}
	if e.client.Airflow() == airflow {
		return nil
	}
	return e.client.SetParam(ctx, KeyAirflow, airflow)
}

// Oscillate toggles heat recovery; turning it off selects ventilation.
func (e *Entity) Oscillate(ctx context.Context, on bool) error {
	if on {
		return e.client.SetParam(ctx, KeyAirflow, AirflowHeatRecovery)
	}
	return e.client.SetParam(ctx, KeyAirflow, AirflowVentilation)
}

func validPreset(mode string) bool {
	for _, m := range PresetModes {
		if m == mode {
			return true
		}
	}
	return false
}
