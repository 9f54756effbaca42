package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleMetrics(t *testing.T) {
	m := NewMetrics()

	m.MeterSample(420)
	m.MeterPhases([]int{300, 120, 0})
	m.Cycle(domain.CycleResult{
		Time:     time.Now(),
		Setpoint: 600,
		Solar:    120,
		Commands: []domain.DeviceCommand{
			{DeviceId: "hub1", PowerSetpoint: 50, Changed: true},
			{DeviceId: "hub2", PowerSetpoint: 0},
		},
	})
	m.Cycle(domain.CycleResult{Skipped: true})
	m.Throttled()

	assert.Equal(t, 420.0, testutil.ToFloat64(m.meterPower))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.phasePower.WithLabelValues("2")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.phasePower))
	assert.Equal(t, 600.0, testutil.ToFloat64(m.setpoint))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("distributed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsSent.WithLabelValues("hub1")))
	// unchanged devices are not counted
	assert.Equal(t, 1, testutil.CollectAndCount(m.commandsSent))
}

func TestDeviceMetrics(t *testing.T) {
	m := NewMetrics()
	m.Devices([]domain.DeviceSnapshot{{Id: "hub1", Status: "ACTIVE", Level: 44, PowerSetpoint: -300}})

	assert.Equal(t, -300.0, testutil.ToFloat64(m.devicePower.WithLabelValues("hub1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deviceStatus.WithLabelValues("hub1", "ACTIVE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.deviceStatus.WithLabelValues("hub1", "OFFLINE")))

	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP zendure_device_level_percent Usable charge level per device.
# TYPE zendure_device_level_percent gauge
zendure_device_level_percent{device="hub1"} 44
`), "zendure_device_level_percent")
	require.NoError(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MeterSample(1)
		m.MeterPhases([]int{1})
		m.Throttled()
		m.ReportDropped()
		m.Cycle(domain.CycleResult{})
		m.Devices(nil)
	})
	assert.NotNil(t, m.Handler())
}
