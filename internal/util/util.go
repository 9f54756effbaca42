package util

import (
	"github.com/berfenger/zendure2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "zendure",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Zendure: config.ZendureConfig{
			ReportTopicPrefix: "",
			WriteTopicPrefix:  "iot",
		},
		Meter: config.MeterConfig{
			Source:          config.METER_SOURCE_MODBUS,
			Factor:          1,
			MinUpdateMillis: 0,
		},
		MeterModbusTcp: config.MeterModbusTCPConfig{
			Host:               "-.-.-.-",
			Port:               502,
			MeterId:            200,
			PollIntervalMillis: 1000,
		},
		Distribution: config.DistributionConfig{
			OperatingMode:        "MATCHING",
			StartPower:           50,
			PowerTolerance:       5,
			DeviceTimeoutSeconds: 120,
			PackTimeoutSeconds:   600,
		},
		FuseGroups: []config.FuseGroupConfig{
			{Name: "garage", MaxPower: 800, MinPower: -1200},
		},
		Devices: []config.DeviceConfig{
			{Id: "hub1", ProductKey: "a8yh63", Name: "Hyper 1", FuseGroup: "garage"},
			{Id: "hub2", ProductKey: "a8yh63", Name: "Hyper 2", FuseGroup: "garage"},
		},
		Port: 8080,
	}
}
