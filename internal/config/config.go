package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	METER_SOURCE_MQTT   = "mqtt"
	METER_SOURCE_MODBUS = "modbus"
)

type Config struct {
	LogLevel       zapcore.Level
	MQTT           MQTTConfig           `mapstructure:"mqtt"`
	Zendure        ZendureConfig        `mapstructure:"zendure"`
	Meter          MeterConfig          `mapstructure:"meter"`
	MeterModbusTcp MeterModbusTCPConfig `mapstructure:"meter_modbus_tcp"`
	Distribution   DistributionConfig   `mapstructure:"distribution"`
	Devices        []DeviceConfig       `mapstructure:"devices"`
	FuseGroups     []FuseGroupConfig    `mapstructure:"fuse_groups"`
	Port           uint                 `mapstructure:"port"`
	HttpLog        bool                 `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// ZendureConfig holds the topic layout of the hubs on the local broker.
type ZendureConfig struct {
	ReportTopicPrefix string `mapstructure:"report_topic_prefix"`
	WriteTopicPrefix  string `mapstructure:"write_topic_prefix"`
}

type MeterConfig struct {
	Source          string
	MQTTTopic       string  `mapstructure:"mqtt_topic"`
	MQTTJSONField   string  `mapstructure:"mqtt_json_field"`
	Factor          float64 `mapstructure:"factor"`
	MinUpdateMillis uint32  `mapstructure:"min_update_millis"`
}

type MeterModbusTCPConfig struct {
	Host               string
	Port               uint
	MeterId            uint   `mapstructure:"meter_id"`
	IgnoreFronius      bool   `mapstructure:"ignore_fronius"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type DistributionConfig struct {
	OperatingMode        string `mapstructure:"operating_mode"`
	ManualPower          int    `mapstructure:"manual_power"`
	StartPower           int    `mapstructure:"start_power"`
	PowerTolerance       int    `mapstructure:"power_tolerance"`
	DeviceTimeoutSeconds uint32 `mapstructure:"device_timeout_seconds"`
	PackTimeoutSeconds   uint32 `mapstructure:"pack_timeout_seconds"`
	AutoRegister         bool   `mapstructure:"auto_register"`
}

type DeviceConfig struct {
	Id         string
	ProductKey string  `mapstructure:"product_key"`
	Name       string  `mapstructure:"name"`
	FuseGroup  string  `mapstructure:"fuse_group"`
	MinSoc     float64 `mapstructure:"min_soc"`
	MaxSoc     float64 `mapstructure:"max_soc"`
	CapacityWh float64 `mapstructure:"capacity_wh"`
}

type FuseGroupConfig struct {
	Name     string
	MaxPower int `mapstructure:"max_power"`
	MinPower int `mapstructure:"min_power"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks value bounds and cross references between sections.
func (c *Config) Validate() error {
	var errs []error

	switch c.Meter.Source {
	case METER_SOURCE_MQTT:
		if c.Meter.MQTTTopic == "" {
			errs = append(errs, errors.New("config param meter.mqtt_topic is required for meter source mqtt"))
		}
	case METER_SOURCE_MODBUS:
		if c.MeterModbusTcp.Host == "" {
			errs = append(errs, errors.New("config param meter_modbus_tcp.host is required for meter source modbus"))
		}
		if c.MeterModbusTcp.PollIntervalMillis < 1000 {
			errs = append(errs, errors.New("config param meter_modbus_tcp.poll_interval_millis should be >= 1000"))
		}
	default:
		errs = append(errs, fmt.Errorf("config param meter.source must be %s or %s", METER_SOURCE_MQTT, METER_SOURCE_MODBUS))
	}
	if c.Meter.Factor == 0 {
		errs = append(errs, errors.New("config param meter.factor must not be 0"))
	}

	if c.Distribution.StartPower <= 0 {
		errs = append(errs, errors.New("config param distribution.start_power should be > 0"))
	}
	if c.Distribution.PowerTolerance < 0 {
		errs = append(errs, errors.New("config param distribution.power_tolerance should be >= 0"))
	}

	groups := map[string]bool{}
	for _, g := range c.FuseGroups {
		if g.Name == "" {
			errs = append(errs, errors.New("fuse group without name"))
			continue
		}
		if groups[g.Name] {
			errs = append(errs, fmt.Errorf("fuse group %s defined twice", g.Name))
		}
		groups[g.Name] = true
		if g.MaxPower < 0 || g.MinPower > 0 {
			errs = append(errs, fmt.Errorf("fuse group %s: max_power must be >= 0 and min_power <= 0", g.Name))
		}
	}

	devices := map[string]bool{}
	for _, d := range c.Devices {
		if d.Id == "" {
			errs = append(errs, errors.New("device without id"))
			continue
		}
		if devices[d.Id] {
			errs = append(errs, fmt.Errorf("device %s defined twice", d.Id))
		}
		devices[d.Id] = true
		if d.FuseGroup != "" && !groups[d.FuseGroup] {
			errs = append(errs, fmt.Errorf("device %s references unknown fuse group %s", d.Id, d.FuseGroup))
		}
		if d.MinSoc != 0 || d.MaxSoc != 0 {
			if d.MinSoc < 0 || d.MinSoc >= d.MaxSoc || d.MaxSoc > 100 {
				errs = append(errs, fmt.Errorf("device %s: soc bounds must satisfy 0 <= min_soc < max_soc <= 100", d.Id))
			}
		}
		if d.CapacityWh < 0 {
			errs = append(errs, fmt.Errorf("device %s: capacity_wh must be >= 0", d.Id))
		}
	}

	return errors.Join(errs...)
}
