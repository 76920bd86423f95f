// Package metrics exports cached fan snapshots as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urmzd/ecovent/pkg/vento"
)

// Source lists the fans to export.
type Source interface {
	Fans() []vento.FanStatus
}

// Collector reads the last known snapshot of every fan on each scrape. It
// never talks to the fans itself and keeps no series between scrapes, so
// concurrent scrapes are independent.
type Collector struct {
	source Source

	up                *prometheus.Desc
	info              *prometheus.Desc
	on                *prometheus.Desc
	manSpeedPercent   *prometheus.Desc
	rotorRPM          *prometheus.Desc
	humidityPercent   *prometheus.Desc
	humidityThreshold *prometheus.Desc
	batteryVolts      *prometheus.Desc
	filterRemaining   *prometheus.Desc
	filterDue         *prometheus.Desc
	operatingSeconds  *prometheus.Desc
	alarm             *prometheus.Desc
	lastSuccess       *prometheus.Desc
	pollFailures      *prometheus.Desc

	exchanges *prometheus.Desc
	attempts  *prometheus.Desc
	failures  *prometheus.Desc
	malformed *prometheus.Desc
}

func NewCollector(source Source) *Collector {
	fan := []string{"fan"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc("ecovent_fan_"+name, help, labels, nil)
	}

	return &Collector{
		source:            source,
		up:                desc("up", "1 if the last refresh succeeded", fan),
		info:              desc("info", "Fan identity", []string{"fan", "device_id", "unit_type", "firmware", "address"}),
		on:                desc("on", "1 if the fan is switched on", fan),
		manSpeedPercent:   desc("manual_speed_percent", "Manual speed setting (%)", fan),
		rotorRPM:          desc("rotor_speed_rpm", "Rotor speed (rpm)", []string{"fan", "rotor"}),
		humidityPercent:   desc("humidity_percent", "Relative humidity (%)", fan),
		humidityThreshold: desc("humidity_threshold_percent", "Humidity sensor threshold (%)", fan),
		batteryVolts:      desc("battery_volts", "RTC battery voltage (V)", fan),
		filterRemaining:   desc("filter_remaining_seconds", "Time until filter replacement", fan),
		filterDue:         desc("filter_replacement_due", "1 if the filter needs replacing", fan),
		operatingSeconds:  desc("operating_seconds", "Total operating time", fan),
		alarm:             desc("alarm_level", "Alarm level (0=none, 1=alarm, 2=warning)", fan),
		lastSuccess:       desc("last_success_timestamp_seconds", "Last successful read (epoch seconds)", fan),
		pollFailures:      desc("poll_failures", "Consecutive failed refreshes", fan),
		exchanges:         desc("exchanges_total", "Request/response exchanges started", fan),
		attempts:          desc("attempts_total", "Datagrams sent including retries", fan),
		failures:          desc("failed_exchanges_total", "Exchanges that exhausted their retry budget", fan),
		malformed:         desc("malformed_datagrams_total", "Datagrams dropped as malformed", fan),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.up, c.info, c.on, c.manSpeedPercent, c.rotorRPM, c.humidityPercent, c.humidityThreshold,
		c.batteryVolts, c.filterRemaining, c.filterDue, c.operatingSeconds, c.alarm, c.lastSuccess,
		c.pollFailures, c.exchanges, c.attempts, c.failures, c.malformed,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, f := range c.source.Fans() {
		gauge := func(d *prometheus.Desc, v float64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{f.ID}, extra...)...)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), f.ID)
		}

		gauge(c.pollFailures, float64(f.Poll.Failures))
		gauge(c.up, boolValue(f.Available))
		counter(c.exchanges, f.Stats.Exchanges)
		counter(c.attempts, f.Stats.Attempts)
		counter(c.failures, f.Stats.Failures)
		counter(c.malformed, f.Stats.Malformed)

		s := f.Snapshot
		if s == nil {
			continue
		}
		gauge(c.info, 1, f.DeviceID, s.UnitType, s.Firmware.String(), f.Address)
		gauge(c.lastSuccess, float64(f.UpdatedAt.Unix()))
		gauge(c.on, boolValue(s.State == vento.StateOn))
		gauge(c.manSpeedPercent, float64(s.ManSpeedPercent()))
		gauge(c.rotorRPM, float64(s.Fan1Speed), "1")
		gauge(c.rotorRPM, float64(s.Fan2Speed), "2")
		gauge(c.operatingSeconds, s.MachineHours.Duration().Seconds())

		supported := func(key string) bool {
			for _, k := range s.Unsupported {
				if k == key {
					return false
				}
			}
			return true
		}
		if supported(vento.KeyHumidity) {
			gauge(c.humidityPercent, float64(s.Humidity))
		}
		if supported(vento.KeyHumidityThreshold) {
			gauge(c.humidityThreshold, float64(s.HumidityThreshold))
		}
		if supported(vento.KeyBatteryVoltage) {
			gauge(c.batteryVolts, float64(s.BatteryVoltage)/1000)
		}
		if supported(vento.KeyFilterTimer) {
			gauge(c.filterRemaining, s.FilterTimer.Duration().Seconds())
		}
		if supported(vento.KeyFilterReplacement) {
			gauge(c.filterDue, boolValue(s.FilterReplacement == vento.StateOn))
		}
		if supported(vento.KeyAlarmStatus) {
			gauge(c.alarm, alarmLevel(s.AlarmStatus))
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func alarmLevel(status string) float64 {
	switch status {
	case vento.AlarmAlarm:
		return 1
	case vento.AlarmWarning:
		return 2
	}
	return 0
}
