package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Meter: MeterConfig{
			Source:    METER_SOURCE_MQTT,
			MQTTTopic: "p1/power",
			Factor:    1,
		},
		Distribution: DistributionConfig{
			StartPower:     50,
			PowerTolerance: 5,
		},
		FuseGroups: []FuseGroupConfig{{Name: "garage", MaxPower: 3600, MinPower: -3600}},
		Devices: []DeviceConfig{
			{Id: "hub1", FuseGroup: "garage", MinSoc: 10, MaxSoc: 90},
			{Id: "hub2"},
		},
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Devices[1].FuseGroup = "attic"
	assert.ErrorContains(t, cfg.Validate(), "unknown fuse group attic")

	cfg = validConfig()
	cfg.Devices[0].MinSoc = 95
	assert.ErrorContains(t, cfg.Validate(), "soc bounds")

	cfg = validConfig()
	cfg.FuseGroups[0].MinPower = 100
	assert.ErrorContains(t, cfg.Validate(), "min_power")

	cfg = validConfig()
	cfg.Meter.Source = METER_SOURCE_MODBUS
	assert.ErrorContains(t, cfg.Validate(), "meter_modbus_tcp.host")

	cfg = validConfig()
	cfg.Distribution.StartPower = 0
	cfg.Meter.Factor = 0
	err := cfg.Validate()
	assert.ErrorContains(t, err, "start_power")
	assert.ErrorContains(t, err, "meter.factor")
}

func TestCheckMQTTTopic(t *testing.T) {
	topic, err := CheckMQTTTopic("Zendure_2")
	require.NoError(t, err)
	assert.Equal(t, "zendure_2", topic)

	_, err = CheckMQTTTopic("zendure/bridge")
	assert.Error(t, err)
}
