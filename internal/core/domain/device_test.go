package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testDevice(id string, level float64) *Device {
	d := NewDevice(id)
	d.CapacityOverrideWh = 4000
	d.CapacityWh = 4000
	d.Status = DeviceStatusActive
	d.LastReport = t0
	d.SetAvailableEnergy(d.MaxAvailableEnergy() * level / 100)
	return d
}

func TestEntityFactor(t *testing.T) {
	e := NewEntity(SOC_FACTOR)
	e.Update(955)
	assert.InDelta(t, 95.5, e.Number(), 0.0001)
	assert.Equal(t, 95, e.Int())

	n := EntityOf(-12.7)
	assert.Equal(t, -12, n.Int(), "truncates toward zero")
	n.Update(30)
	assert.Equal(t, 30, n.Int())
}

func TestPackModel(t *testing.T) {
	cases := []struct {
		serial   string
		model    string
		capacity float64
	}{
		{"A1234567", "AIO2400", 2400},
		{"A0001XYZ", "AB1000", 960},
		{"B0001XYZ", "AB1000S", 960},
		{"CO4FXYZ", "AB2000S", 1920},
		{"CO4EXYZ", "AB2000X", 1920},
		{"CO41XYZ", "AB2000", 1920},
		{"FO41XYZ", "AB3000", 2880},
		{"ZZZZ", "Unknown", 0},
		{"A", "AB1000", 960},
	}
	for _, c := range cases {
		model, capacity := packModel(c.serial)
		assert.Equal(t, c.model, model, c.serial)
		assert.Equal(t, c.capacity, capacity, c.serial)
	}
}

func TestApplyReport(t *testing.T) {
	require := require.New(t)

	d := NewDevice("hub1")
	report := DeviceReport{
		DeviceId: "hub1",
		Properties: map[string]any{
			FIELD_GRID_INPUT_POWER:  json.Number("0"),
			FIELD_OUTPUT_HOME_POWER: json.Number("350"),
			FIELD_SOLAR_INPUT_POWER: json.Number("420"),
			FIELD_ELECTRIC_LEVEL:    json.Number("50"),
			FIELD_MIN_SOC:           json.Number("100"),
			FIELD_SOC_SET:           json.Number("1000"),
			FIELD_INVERSE_MAX_POWER: json.Number("800"),
			FIELD_CHARGE_LIMIT:      json.Number("900"),
			FIELD_OUTPUT_PACK_POWER: 0.0,
			FIELD_PACK_INPUT_POWER:  json.Number("70"),
			FIELD_SOC_LIMIT:         "not a number",
			"someOtherProperty":     1.0,
		},
		PackData: []map[string]any{
			{FIELD_PACK_SERIAL: "CO4F123", FIELD_PACK_POWER: json.Number("-70")},
			{FIELD_PACK_SERIAL: "A0001"},
			{FIELD_PACK_POWER: json.Number("10")},
		},
	}

	err := d.ApplyReport(report, t0)
	require.Error(err)
	require.ErrorIs(err, ErrMalformedValue)

	require.Equal(350, d.HomePower.Int())
	require.Equal(420, d.SolarPower.Int())
	require.Equal(70, d.BatteryPower.Int())
	require.Equal(PowerLimits{-900, 800}, d.Limits)
	require.InDelta(10, d.MinSoc.Number(), 0.001)
	require.InDelta(100, d.SocSet.Number(), 0.001)
	require.Equal(0, d.SocLimit.Int(), "malformed field keeps its previous value")

	require.Len(d.Packs(), 2)
	require.Equal(2880.0, d.CapacityWh)
	require.InDelta(1152, d.AvailableWh, 0.001)
	require.Equal(44.0, d.Level)
	require.Equal(t0, d.LastReport)
}

func TestApplyReportOffGridHomePower(t *testing.T) {
	require := require.New(t)

	d := NewDevice("hub1")
	err := d.ApplyReport(DeviceReport{
		DeviceId: "hub1",
		Properties: map[string]any{
			FIELD_GRID_INPUT_POWER:  json.Number("200"),
			FIELD_GRID_OFF_POWER:    json.Number("300"),
			FIELD_OUTPUT_HOME_POWER: json.Number("0"),
		},
		PackData: []map[string]any{
			{FIELD_PACK_SERIAL: "FO41XYZ", FIELD_PACK_POWER: json.Number("50")},
		},
	}, t0)
	require.NoError(err)
	require.Equal(-200+(300-50), d.HomePower.Int())

	// a direct homePower reading wins over the derived value
	err = d.ApplyReport(DeviceReport{
		DeviceId: "hub1",
		Properties: map[string]any{
			FIELD_GRID_INPUT_POWER: json.Number("0"),
			FIELD_HOME_POWER:       json.Number("-400"),
		},
	}, t0)
	require.NoError(err)
	require.Equal(-400, d.HomePower.Int())
}

func TestLimitsKeepSign(t *testing.T) {
	d := NewDevice("hub1")
	d.SetLimits(300, -100)
	assert.Equal(t, PowerLimits{0, 0}, d.Limits)
	d.SetLimits(-800, 2400)
	assert.Equal(t, PowerLimits{-800, 2400}, d.Limits)
}

func TestPrunePacks(t *testing.T) {
	require := require.New(t)

	d := NewDevice("hub1")
	require.NoError(d.ApplyReport(DeviceReport{
		DeviceId: "hub1",
		PackData: []map[string]any{{FIELD_PACK_SERIAL: "CO41XYZ"}, {FIELD_PACK_SERIAL: "FO41XYZ"}},
	}, t0))
	require.Equal(4800.0, d.CapacityWh)

	require.NoError(d.ApplyReport(DeviceReport{
		DeviceId: "hub1",
		PackData: []map[string]any{{FIELD_PACK_SERIAL: "FO41XYZ"}},
	}, t0.Add(4*time.Minute)))

	removed := d.PrunePacks(t0.Add(6*time.Minute), 5*time.Minute)
	require.Equal([]string{"CO41XYZ"}, removed)
	require.Equal(2880.0, d.CapacityWh)
}

func TestDistributeDeadband(t *testing.T) {
	d := testDevice("hub1", 50)
	d.HomePower.Set(300)
	d.PowerSetpoint = 300

	first := d.Distribute(303, 5, t0)
	second := d.Distribute(303, 5, t0)
	assert.Equal(t, 300, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 300, d.PowerSetpoint, "setpoint unchanged inside the deadband")
	assert.True(t, d.CommitReadyAt.IsZero())
}

func TestDistributeDeadbandWithOffset(t *testing.T) {
	require := require.New(t)

	d := testDevice("hub1", 50)
	d.PowerOffset = -100
	accepted := d.Distribute(600, 5, t0)
	require.Equal(500, d.PowerSetpoint)
	require.Equal(400, accepted)

	// device caught up with the commit: the same command repeats the accepted power
	d.HomePower.Set(500)
	require.Equal(400, d.Distribute(600, 5, t0.Add(time.Minute)))
	require.Equal(500, d.PowerSetpoint)
}

func TestDistributeClampsAndRamps(t *testing.T) {
	require := require.New(t)

	d := testDevice("hub1", 50)
	accepted := d.Distribute(2000, 5, t0)
	require.Equal(1200, accepted)
	require.Equal(1200, d.PowerSetpoint)
	// 3s + 2000/250 s
	require.Equal(t0.Add(11*time.Second), d.CommitReadyAt)
	require.False(d.Settled(t0.Add(10 * time.Second)))
	require.True(d.Settled(t0.Add(11 * time.Second)))

	accepted = d.Distribute(-5000, 5, t0)
	require.Equal(-1200, accepted)
}

func TestDistributeStaysWithinLimits(t *testing.T) {
	d := testDevice("hub1", 50)
	d.SolarPower.Set(200)
	d.SetLimits(-600, 900)
	for _, p := range []int{-3000, -601, -50, 0, 7, 450, 899, 901, 4000} {
		d.Distribute(p, 5, t0)
		assert.GreaterOrEqual(t, d.PowerSetpoint, d.Limits[0])
		assert.LessOrEqual(t, d.PowerSetpoint, d.Limits[1])
	}
}

func TestDistributeEmptyDeviceCappedBySolar(t *testing.T) {
	d := testDevice("hub1", 0)
	d.SolarPower.Set(100)
	require.Equal(t, 0.0, d.Level)

	accepted := d.Distribute(500, 5, t0)
	assert.LessOrEqual(t, accepted, 100)
	assert.Equal(t, 100, d.PowerSetpoint)
}

func TestDistributeFullDeviceRefusesCharge(t *testing.T) {
	d := testDevice("hub1", 100)
	accepted := d.Distribute(-500, 5, t0)
	assert.Equal(t, 0, accepted)
	assert.Equal(t, 0, d.PowerSetpoint)

	accepted = d.Distribute(500, 5, t0)
	assert.Equal(t, 500, accepted)
}

func TestDistributeWithOffset(t *testing.T) {
	d := testDevice("hub1", 50)
	d.PowerOffset = -100
	accepted := d.Distribute(600, 5, t0)
	assert.Equal(t, 500, d.PowerSetpoint)
	assert.Equal(t, 400, accepted)
}

func TestWeightsAndPriority(t *testing.T) {
	d := testDevice("hub1", 25)
	// 4000 Wh between 10% and 90% => 3200 Wh usable
	assert.InDelta(t, 800, d.AvailableWh, 0.001)
	assert.InDelta(t, 3200, d.Weight(DirectionCharge), 0.001)
	assert.InDelta(t, 800, d.Weight(DirectionDischarge), 0.001)
	assert.Equal(t, 25.0, d.PriorityKey(DirectionCharge))

	d.HomePower.Set(100)
	assert.Equal(t, 22.0, d.PriorityKey(DirectionCharge))
	assert.Equal(t, 28.0, d.PriorityKey(DirectionDischarge))

	full := testDevice("hub2", 100)
	assert.Equal(t, 0.0, full.Weight(DirectionCharge))
	empty := testDevice("hub3", 0)
	assert.Equal(t, 0.0, empty.Weight(DirectionDischarge))
}

func TestParseOperatingMode(t *testing.T) {
	for value, expected := range map[string]OperatingMode{
		"0":                              OperatingModeOff,
		"2":                              OperatingModeMatching,
		"manual":                         OperatingModeManual,
		"MATCHING_CHARGE":                OperatingModeMatchingCharge,
		"ManagerMode.MATCHING_DISCHARGE": OperatingModeMatchingDischarge,
	} {
		mode, err := ParseOperatingMode(value)
		require.NoError(t, err, value)
		assert.Equal(t, expected, mode, value)
	}

	_, err := ParseOperatingMode("7")
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = ParseOperatingMode("TURBO")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestParseDeviceReport(t *testing.T) {
	report, err := ParseDeviceReport([]byte(`{"deviceId":"hub1","properties":{"solarInputPower":120,"electricLevel":55},"packData":[{"sn":"CO4F1","power":-30}]}`))
	require.NoError(t, err)
	assert.Equal(t, "hub1", report.DeviceId)
	v, err := NumberValue(report.Properties[FIELD_SOLAR_INPUT_POWER])
	require.NoError(t, err)
	assert.Equal(t, 120.0, v)
	assert.Len(t, report.PackData, 1)

	_, err = ParseDeviceReport([]byte(`{"deviceId":`))
	assert.Error(t, err)
}
