package vento

import (
	"fmt"
	"sort"
	"time"
)

// Countdown is a timer value reported by the fan.
type Countdown struct {
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds,omitempty"`
}

// Duration converts the countdown to a time.Duration.
func (c Countdown) Duration() time.Duration {
	return time.Duration(c.Days)*24*time.Hour +
		time.Duration(c.Hours)*time.Hour +
		time.Duration(c.Minutes)*time.Minute +
		time.Duration(c.Seconds)*time.Second
}

func (c Countdown) String() string {
	if c.Days > 0 {
		return fmt.Sprintf("%dd %02d:%02d", c.Days, c.Hours, c.Minutes)
	}
	return fmt.Sprintf("%02d:%02d:%02d", c.Hours, c.Minutes, c.Seconds)
}

// Firmware is the controller firmware version and build date.
type Firmware struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (f Firmware) String() string {
	return fmt.Sprintf("%d.%d", f.Major, f.Minor)
}

// Date returns the firmware build date.
func (f Firmware) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", f.Year, f.Month, f.Day)
}

// Snapshot is the decoded parameter table of one fan. A Snapshot is
// never modified after it is published; updates produce a new value.
type Snapshot struct {
	State               string
	Speed               string
	ManSpeed            int
	Airflow             string
	BoostStatus         string
	BoostTime           int
	TimerMode           string
	TimerCounter        Countdown
	NightModeTimer      Countdown
	PartyModeTimer      Countdown
	Humidity            int
	HumidityThreshold   int
	HumiditySensorState string
	HumidityStatus      string
	AnalogV             int
	AnalogVThreshold    int
	AnalogVSensorState  string
	AnalogVStatus       string
	RelaySensorState    string
	RelayState          string
	BatteryVoltage      int
	Fan1Speed           int
	Fan2Speed           int
	FilterTimer         Countdown
	FilterReplacement   string
	MachineHours        Countdown
	AlarmStatus         string
	Firmware            Firmware
	UnitType            string
	CurrentIP           string
	DeviceID            string

	// Unsupported lists keys the device reported as not available.
	Unsupported []string
}

// ManSpeedPercent returns the manual speed as a percentage.
func (s *Snapshot) ManSpeedPercent() int {
	return ManSpeedToPercent(s.ManSpeed)
}

// clone returns a deep copy suitable for copy-on-write updates.
func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Unsupported = append([]string(nil), s.Unsupported...)
	return &c
}

// Map flattens the snapshot into a key/value state map.
func (s *Snapshot) Map() map[string]any {
	m := map[string]any{
		KeyState:               s.State,
		KeySpeed:               s.Speed,
		KeyManSpeed:            s.ManSpeed,
		KeyManSpeedPercent:     s.ManSpeedPercent(),
		KeyAirflow:             s.Airflow,
		KeyBoostStatus:         s.BoostStatus,
		KeyBoostTime:           s.BoostTime,
		KeyTimerMode:           s.TimerMode,
		KeyTimerCounter:        s.TimerCounter.String(),
		KeyNightModeTimer:      s.NightModeTimer.String(),
		KeyPartyModeTimer:      s.PartyModeTimer.String(),
		KeyHumidity:            s.Humidity,
		KeyHumidityThreshold:   s.HumidityThreshold,
		KeyHumiditySensorState: s.HumiditySensorState,
		KeyHumidityStatus:      s.HumidityStatus,
		KeyAnalogV:             s.AnalogV,
		KeyAnalogVThreshold:    s.AnalogVThreshold,
		KeyAnalogVSensorState:  s.AnalogVSensorState,
		KeyAnalogVStatus:       s.AnalogVStatus,
		KeyRelaySensorState:    s.RelaySensorState,
		KeyRelayState:          s.RelayState,
		KeyBatteryVoltage:      s.BatteryVoltage,
		KeyFan1Speed:           s.Fan1Speed,
		KeyFan2Speed:           s.Fan2Speed,
		KeyFilterTimer:         s.FilterTimer.String(),
		KeyFilterReplacement:   s.FilterReplacement,
		KeyMachineHours:        s.MachineHours.String(),
		KeyAlarmStatus:         s.AlarmStatus,
		KeyFirmware:            s.Firmware.String(),
		KeyUnitType:            s.UnitType,
		KeyCurrentWifiIP:       s.CurrentIP,
	}
	for _, k := range s.Unsupported {
		delete(m, k)
	}
	return m
}

// decodeSnapshot builds a snapshot from a read-all response. Every
// requested parameter must be present, either with a value or marked
// unsupported; anything less is a malformed response.
func decodeSnapshot(entries []entry, requested []uint16) (*Snapshot, error) {
	s := &Snapshot{}
	seen := make(map[uint16]bool, len(entries))

	for _, e := range entries {
		p, ok := paramsByID[e.id]
		if !ok {
			continue
		}
		seen[e.id] = true
		if e.unsupported {
			s.Unsupported = append(s.Unsupported, p.key)
			continue
		}
		if p.decode != nil {
			p.decode(s, e.value)
		}
	}

	for _, id := range requested {
		if !seen[id] {
			return nil, fmt.Errorf("%w: parameter 0x%04x missing from response", ErrMalformedResponse, id)
		}
	}

	sort.Strings(s.Unsupported)
	return s, nil
}
