package metrics

import (
	"net/http"
	"strconv"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zendure"

// Metrics exposes the distribution state to prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	registry       *prometheus.Registry
	cycles         *prometheus.CounterVec
	meterPower     prometheus.Gauge
	phasePower     *prometheus.GaugeVec
	setpoint       prometheus.Gauge
	solarPower     prometheus.Gauge
	devicePower    *prometheus.GaugeVec
	deviceLevel    *prometheus.GaugeVec
	deviceEnergy   *prometheus.GaugeVec
	deviceStatus   *prometheus.GaugeVec
	commandsSent   *prometheus.CounterVec
	reportsDropped prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distribution_cycles_total",
			Help:      "Control cycles run, by outcome (distributed, solar_only, skipped, throttled).",
		}, []string{"outcome"}),
		meterPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_power_watts",
			Help:      "Last grid meter reading, positive when importing.",
		}),
		phasePower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_phase_power_watts",
			Help:      "Last grid meter reading per phase, for meters that report phases.",
		}, []string{"phase"}),
		setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "setpoint_watts",
			Help:      "Smoothed distribution setpoint of the last cycle.",
		}),
		solarPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solar_power_watts",
			Help:      "Solar power summed over active devices.",
		}),
		devicePower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_power_setpoint_watts",
			Help:      "Committed power setpoint per device.",
		}, []string{"device"}),
		deviceLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_level_percent",
			Help:      "Usable charge level per device.",
		}, []string{"device"}),
		deviceEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_available_energy_wh",
			Help:      "Available energy per device.",
		}, []string{"device"}),
		deviceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_status",
			Help:      "Device status, 1 for the current status of each device.",
		}, []string{"device", "status"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_commands_total",
			Help:      "Power commands written to devices.",
		}, []string{"device"}),
		reportsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_reports_dropped_total",
			Help:      "Device reports that could not be applied.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.meterPower,
		m.phasePower,
		m.setpoint,
		m.solarPower,
		m.devicePower,
		m.deviceLevel,
		m.deviceEnergy,
		m.deviceStatus,
		m.commandsSent,
		m.reportsDropped,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MeterSample(powerWatt int) {
	if m == nil {
		return
	}
	m.meterPower.Set(float64(powerWatt))
}

func (m *Metrics) MeterPhases(phases []int) {
	if m == nil {
		return
	}
	for i, p := range phases {
		m.phasePower.WithLabelValues(strconv.Itoa(i + 1)).Set(float64(p))
	}
}

func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("throttled").Inc()
}

func (m *Metrics) ReportDropped() {
	if m == nil {
		return
	}
	m.reportsDropped.Inc()
}

func (m *Metrics) Cycle(result domain.CycleResult) {
	if m == nil {
		return
	}
	switch {
	case result.Skipped:
		m.cycles.WithLabelValues("skipped").Inc()
		return
	case result.SolarOnly:
		m.cycles.WithLabelValues("solar_only").Inc()
	default:
		m.cycles.WithLabelValues("distributed").Inc()
	}
	m.setpoint.Set(float64(result.Setpoint))
	m.solarPower.Set(float64(result.Solar))
	for _, c := range result.Changed() {
		m.commandsSent.WithLabelValues(c.DeviceId).Inc()
	}
}

func (m *Metrics) Devices(devices []domain.DeviceSnapshot) {
	if m == nil {
		return
	}
	for _, d := range devices {
		m.devicePower.WithLabelValues(d.Id).Set(float64(d.PowerSetpoint))
		m.deviceLevel.WithLabelValues(d.Id).Set(d.Level)
		m.deviceEnergy.WithLabelValues(d.Id).Set(d.AvailableWh)
		for _, name := range domain.DeviceStatusNames() {
			value := 0.0
			if name == d.Status {
				value = 1
			}
			m.deviceStatus.WithLabelValues(d.Id, name).Set(value)
		}
	}
}
