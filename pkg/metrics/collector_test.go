package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/urmzd/ecovent/pkg/poller"
	"github.com/urmzd/ecovent/pkg/vento"
)

type staticSource []vento.FanStatus

func (s staticSource) Fans() []vento.FanStatus { return s }

func testFans() staticSource {
	return staticSource{
		{
			ID:        "bedroom",
			Address:   "192.168.50.80",
			DeviceID:  "0123456789ABCDEF",
			Available: true,
			UpdatedAt: time.Unix(1700000000, 0),
			Stats:     vento.Stats{Exchanges: 10, Attempts: 12, Failures: 1, Malformed: 2},
			Snapshot: &vento.Snapshot{
				State:             vento.StateOn,
				ManSpeed:          vento.PercentToManSpeed(45),
				Humidity:          52,
				HumidityThreshold: 60,
				BatteryVoltage:    3000,
				Fan1Speed:         800,
				Fan2Speed:         798,
				FilterTimer:       vento.Countdown{Days: 90, Hours: 4, Minutes: 30},
				FilterReplacement: vento.StateOff,
				MachineHours:      vento.Countdown{Days: 300, Hours: 6, Minutes: 5},
				AlarmStatus:       vento.AlarmWarning,
				Firmware:          vento.Firmware{Major: 0, Minor: 7},
				UnitType:          "Vento Expert A50-1/A85-1/A100-1 W V.2",
				Unsupported:       []string{vento.KeyHumidity},
			},
		},
		{
			ID:   "attic",
			Poll: poller.Status{Failures: 3, Stale: true},
		},
	}
}

func TestCollector_ExportsSnapshot(t *testing.T) {
	c := NewCollector(testFans())

	expected := `
# HELP ecovent_fan_up 1 if the last refresh succeeded
# TYPE ecovent_fan_up gauge
ecovent_fan_up{fan="attic"} 0
ecovent_fan_up{fan="bedroom"} 1
# HELP ecovent_fan_manual_speed_percent Manual speed setting (%)
# TYPE ecovent_fan_manual_speed_percent gauge
ecovent_fan_manual_speed_percent{fan="bedroom"} 45
# HELP ecovent_fan_rotor_speed_rpm Rotor speed (rpm)
# TYPE ecovent_fan_rotor_speed_rpm gauge
ecovent_fan_rotor_speed_rpm{fan="bedroom",rotor="1"} 800
ecovent_fan_rotor_speed_rpm{fan="bedroom",rotor="2"} 798
# HELP ecovent_fan_battery_volts RTC battery voltage (V)
# TYPE ecovent_fan_battery_volts gauge
ecovent_fan_battery_volts{fan="bedroom"} 3
# HELP ecovent_fan_alarm_level Alarm level (0=none, 1=alarm, 2=warning)
# TYPE ecovent_fan_alarm_level gauge
ecovent_fan_alarm_level{fan="bedroom"} 2
# HELP ecovent_fan_poll_failures Consecutive failed refreshes
# TYPE ecovent_fan_poll_failures gauge
ecovent_fan_poll_failures{fan="attic"} 3
ecovent_fan_poll_failures{fan="bedroom"} 0
# HELP ecovent_fan_malformed_datagrams_total Datagrams dropped as malformed
# TYPE ecovent_fan_malformed_datagrams_total counter
ecovent_fan_malformed_datagrams_total{fan="attic"} 0
ecovent_fan_malformed_datagrams_total{fan="bedroom"} 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ecovent_fan_up",
		"ecovent_fan_manual_speed_percent",
		"ecovent_fan_rotor_speed_rpm",
		"ecovent_fan_battery_volts",
		"ecovent_fan_alarm_level",
		"ecovent_fan_poll_failures",
		"ecovent_fan_malformed_datagrams_total",
	)
	if err != nil {
		t.Error(err)
	}
}

func TestCollector_SkipsUnsupportedParameters(t *testing.T) {
	c := NewCollector(testFans())
	if n := testutil.CollectAndCount(c, "ecovent_fan_humidity_percent"); n != 0 {
		t.Errorf("humidity series = %d, want 0", n)
	}
	if n := testutil.CollectAndCount(c, "ecovent_fan_humidity_threshold_percent"); n != 1 {
		t.Errorf("humidity threshold series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(c, "ecovent_fan_info"); n != 1 {
		t.Errorf("info series = %d, want 1", n)
	}
}

func TestCollector_DropsRemovedFans(t *testing.T) {
	src := testFans()
	c := NewCollector(&src)
	if n := testutil.CollectAndCount(c, "ecovent_fan_up"); n != 2 {
		t.Fatalf("up series = %d, want 2", n)
	}
	src = src[:1]
	if n := testutil.CollectAndCount(c, "ecovent_fan_up"); n != 1 {
		t.Errorf("up series after removal = %d, want 1", n)
	}
}

func TestCollector_Registers(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(testFans())); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Errorf("Gather: %v", err)
	}
}

func TestCollector_ConcurrentScrapesSeeEveryFan(t *testing.T) {
	c := NewCollector(testFans())

	var wg sync.WaitGroup
	counts := make([]int, 8)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := make(chan prometheus.Metric, 64)
			c.Collect(ch)
			close(ch)
			for m := range ch {
				if strings.Contains(m.Desc().String(), `"ecovent_fan_up"`) {
					counts[i]++
				}
			}
		}(i)
	}
	wg.Wait()

	for i, n := range counts {
		if n != 2 {
			t.Errorf("scrape %d saw %d up series, want 2", i, n)
		}
	}
}
