package simulator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testLog = `2025-06-01 12:00:00.000 DEBUG Topic: /a8yh63/HO1/properties/report => {'deviceId': 'HO1', 'properties': {'electricLevel': 50, 'outputHomePower': 200, 'solarInputPower': 0, 'minSoc': 100, 'socSet': 900, 'byPass': False}, 'packData': [{'sn': 'FO4A1', 'socLevel': 50, 'power': 0}]}
` + "\x1b[32m" + `2025-06-01 12:00:01.000 INFO P1 ======> p1:300 tot:500
2025-06-01 12:00:02.000 INFO Update operation: ManagerMode.MATCHING_CHARGE now
this line means nothing
20xx-06-01 12:00:03.000 INFO P1 ======> p1:100 tot:100
2025-06-01 12:00:04.000 DEBUG /a8yh63/HO1/properties/report {'deviceId': broken}
2025-06-01 12:00:05.000 INFO P1 power changed => 250W
`

func parseTestLog(t *testing.T) *Log {
	l, err := ParseLog(strings.NewReader(testLog), zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestParseLog(t *testing.T) {
	require := require.New(t)
	l := parseTestLog(t)

	require.Equal(2, l.Len())
	require.Equal([]int{300, 250}, l.Meter)
	require.Equal([]int{200, 200}, l.DeviceHome)
	require.Equal([]int{500, 450}, l.Consumption)

	require.Len(l.Modes, 1)
	require.Equal(domain.OperatingModeMatchingCharge, l.Modes[0].Mode)
	require.Equal(1, l.Modes[0].Index)

	series := l.Devices()
	require.Len(series, 1)
	s := series[0]
	require.Equal("HO1", s.Device.Id)
	require.Equal(0, s.StartIndex)
	require.Equal([]int{50, 50}, s.Levels)
	require.Equal([]int{200, 200}, s.Home)
	require.Equal(2880.0, s.Device.CapacityWh)
	require.Equal(10.0, s.Device.MinSoc.Number())
	require.Equal(90.0, s.Device.SocSet.Number())
}

func TestParseLogPadsLateDevices(t *testing.T) {
	log := `2025-06-01 12:00:01.000 INFO P1 ======> p1:300 tot:500
2025-06-01 12:00:02.000 DEBUG properties/report {"deviceId": "HO2", "properties": {"electricLevel": 30, "outputHomePower": 100}}
2025-06-01 12:00:03.000 INFO P1 ======> p1:200 tot:500
`
	l, err := ParseLog(strings.NewReader(log), zap.NewNop())
	require.NoError(t, err)

	s := l.Devices()[0]
	assert.Equal(t, 1, s.StartIndex)
	assert.Equal(t, []int{0, 100}, s.Home)
	assert.Equal(t, []int{0, 30}, s.Levels)
}

func TestSimulate(t *testing.T) {
	l := parseTestLog(t)

	result, err := Simulate(l, DefaultOptions(), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, result.Samples, 2)
	require.Len(t, result.Devices, 1)
	dev := result.Devices[0]
	assert.Equal(t, "HO1", dev.Id)
	assert.Equal(t, 2880.0, dev.CapacityWh)

	// first sample replays the recorded meter
	assert.Equal(t, 300, result.Samples[0].SimMeter)
	assert.Equal(t, 50, dev.Level[0])
	assert.Len(t, dev.Settled, 2)
	// afterwards the device delivers the committed setpoint of the previous cycle
	assert.Equal(t, l.Consumption[1]-dev.Power[0], result.Samples[1].SimMeter)
	for i := range dev.Power {
		assert.GreaterOrEqual(t, dev.Power[i], domain.DEFAULT_CHARGE_LIMIT)
		assert.LessOrEqual(t, dev.Power[i], domain.DEFAULT_DISCHARGE_LIMIT)
		assert.GreaterOrEqual(t, dev.Level[i], 0)
		assert.LessOrEqual(t, dev.Level[i], 100)
	}

	assert.Equal(t, 4.0, result.Summary.Seconds)
	assert.InDelta(t, 300.0*4/3600, result.Summary.GridImportWh, 1e-9)
	assert.Equal(t, 0.0, result.Summary.GridExportWh)
	require.Len(t, result.Modes, 1)
	assert.Equal(t, "MATCHING_CHARGE", result.Modes[0].Mode)
}

func TestSimulateEmptyLog(t *testing.T) {
	l, err := ParseLog(strings.NewReader("nothing to see\n"), zap.NewNop())
	require.NoError(t, err)

	_, err = Simulate(l, DefaultOptions(), zap.NewNop())
	assert.ErrorIs(t, err, ErrEmptyLog)
}

func TestWriteYAML(t *testing.T) {
	result, err := Simulate(parseTestLog(t), DefaultOptions(), zap.NewNop())
	require.NoError(t, err)
	result.RunId = "run-1"

	var buf bytes.Buffer
	require.NoError(t, result.WriteYAML(&buf))
	out := buf.String()
	assert.Contains(t, out, "run_id: run-1")
	assert.Contains(t, out, "id: HO1")
	assert.Contains(t, out, "level: [")
	assert.Contains(t, out, "settled: [")
}
