package vento

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/device/schema"
)

func TestStateSchema_CoversWritableAndEntityKeys(t *testing.T) {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(StateSchema(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	keys := append(WritableKeys(), EntityPresetMode, EntityPercentage, EntityDirection, EntityOscillating)
	for _, k := range keys {
		if _, ok := doc.Properties[k]; !ok {
			t.Errorf("schema missing %q", k)
		}
	}
	if len(doc.Properties) != len(keys) {
		t.Errorf("schema has %d properties, want %d", len(doc.Properties), len(keys))
	}
}

func TestStateSchema_AgreesWithEncoders(t *testing.T) {
	v := schema.NewValidator()

	valid := []map[string]any{
		{KeyState: StateToggle},
		{KeySpeed: SpeedManual, KeyManSpeedPercent: 40},
		{KeyHumidityThreshold: 80, KeyBoostTime: 0},
		{KeyResetAlarms: true},
		{EntityPresetMode: SpeedHigh, EntityDirection: DirectionReverse, EntityOscillating: false},
	}
	for _, p := range valid {
		if err := v.Validate(StateSchema(), p); err != nil {
			t.Errorf("Validate(%v): %v", p, err)
		}
	}

	invalid := []map[string]any{
		{},
		{KeyState: "standby"},
		{KeyHumidityThreshold: 39},
		{KeyManSpeed: 256},
		{KeyHumidity: 50},
		{EntityPercentage: 101},
	}
	for _, p := range invalid {
		if err := v.Validate(StateSchema(), p); !errors.Is(err, device.ErrValidation) {
			t.Errorf("Validate(%v) = %v, want ErrValidation", p, err)
		}
		for k, val := range p {
			if _, _, err := lookupWritable(k, val); err == nil && k != EntityPercentage {
				t.Errorf("encoder accepted %s=%v", k, val)
			}
		}
	}
}
