package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE         = "bridge"
	SENSOR_ID_SETPOINT             = "setpoint"
	SENSOR_ID_SOLAR_TOTAL          = "solar_total"
	SENSOR_ID_METER_POWER          = "meter_power"
	SENSOR_ID_SOLAR_ONLY           = "solar_only"
	SELECT_ID_OPERATING_MODE       = "operating_mode"
	INPUT_NUMBER_ID_MANUAL_POWER   = "manual_power"
	DEVICE_SENSOR_POWER_SETPOINT   = "power_setpoint"
	DEVICE_SENSOR_HOME_POWER       = "home_power"
	DEVICE_SENSOR_LEVEL            = "level"
	DEVICE_SENSOR_AVAILABLE_ENERGY = "available_energy"
	DEVICE_SENSOR_SOLAR_POWER      = "solar_power"
	DEVICE_SENSOR_STATUS           = "status"
	STATE_CLASS_MEASUREMENT        = "measurement"
	STATE_CLASS_TOTAL_INCREASING   = "total_increasing"
	DEVICE_CLASS_BATTERY           = "battery"
	DEVICE_CLASS_ENERGY_STORAGE    = "energy_storage"
	DEVICE_CLASS_POWER             = "power"
	DEVICE_CLASS_CONNECTIVITY      = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC        = "diagnostic"
	ENTITY_CLASS_CONFIG            = "config"
	SENSOR_TYPE_SENSOR             = "sensor"
	SENSOR_TYPE_BINARY             = "binary_sensor"
	INPUT_NUMBER_MODE_BOX          = "box"
	INPUT_NUMBER_MODE_SLIDER       = "slider"
)

var sensorIdSanitizer = regexp.MustCompile("[^a-z0-9_]+")

// DeviceSensorId builds a topic safe sensor id for one hub.
func DeviceSensorId(deviceId, kind string) string {
	return fmt.Sprintf("%s_%s", sensorIdSanitizer.ReplaceAllString(strings.ToLower(deviceId), "_"), kind)
}

func BridgeDevice(baseTopic string) HADevice {
	return HADevice{
		Id:           fmt.Sprintf("zendure_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Zendure power distribution",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Zendure bridge %s", md5HashShort(baseTopic)),
	}
}

func HubDevice(deviceId, name, productKey string) HADevice {
	if name == "" {
		name = deviceId
	}
	return HADevice{
		Id:           fmt.Sprintf("zendure_hub_%s", md5HashShort(deviceId)),
		Manufacturer: "Zendure",
		Model:        productKey,
		Name:         name,
	}
}

func IdDevice(device HADevice) HADevice {
	return HADevice{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice HADevice) []GenericSensor {
	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	idDevice := IdDevice(bridgeDevice)
	sensors = append(sensors, powerSensor(idDevice, SENSOR_ID_SETPOINT, "Distribution setpoint"))
	sensors = append(sensors, powerSensor(idDevice, SENSOR_ID_SOLAR_TOTAL, "Solar power"))
	sensors = append(sensors, powerSensor(idDevice, SENSOR_ID_METER_POWER, "Grid meter power"))

	sensors = append(sensors, GenericSensor{
		Device:     idDevice,
		Id:         SENSOR_ID_SOLAR_ONLY,
		SensorType: SENSOR_TYPE_BINARY,
		Name:       "Solar only",
		Icon:       "mdi:solar-power",
		UniqueId:   uniqueId(bridgeDevice.Id, SENSOR_ID_SOLAR_ONLY),
	})

	return sensors
}

func HubSensors(hubDevice HADevice, deviceId string) []GenericSensor {
	var sensors []GenericSensor

	sensors = append(sensors, powerSensor(hubDevice, DeviceSensorId(deviceId, DEVICE_SENSOR_POWER_SETPOINT), "Power setpoint"))

	idDevice := IdDevice(hubDevice)
	sensors = append(sensors, powerSensor(idDevice, DeviceSensorId(deviceId, DEVICE_SENSOR_HOME_POWER), "Home power"))
	sensors = append(sensors, powerSensor(idDevice, DeviceSensorId(deviceId, DEVICE_SENSOR_SOLAR_POWER), "Solar power"))

	// Normalised charge level
	levelId := DeviceSensorId(deviceId, DEVICE_SENSOR_LEVEL)
	sensors = append(sensors, GenericSensor{
		Device:            idDevice,
		Id:                levelId,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Usable charge level",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(hubDevice.Id, levelId),
	})

	// Available energy
	energyId := DeviceSensorId(deviceId, DEVICE_SENSOR_AVAILABLE_ENERGY)
	sensors = append(sensors, GenericSensor{
		Device:            idDevice,
		Id:                energyId,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Available energy",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_ENERGY_STORAGE,
		UnitOfMeasurement: "kWh",
		UniqueId:          uniqueId(hubDevice.Id, energyId),
	})

	statusId := DeviceSensorId(deviceId, DEVICE_SENSOR_STATUS)
	sensors = append(sensors, GenericSensor{
		Device:         idDevice,
		Id:             statusId,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Distribution status",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(hubDevice.Id, statusId),
	})

	return sensors
}

func DistributionSelects(bridgeDevice HADevice) []GenericSelect {
	return []GenericSelect{{
		Device:   IdDevice(bridgeDevice),
		Id:       SELECT_ID_OPERATING_MODE,
		Name:     "Operating mode",
		UniqueId: uniqueId(bridgeDevice.Id, SELECT_ID_OPERATING_MODE),
		Icon:     "mdi:home-battery",
		Options:  OperatingModeNames(),
	}}
}

func DistributionInputNumbers(bridgeDevice HADevice, minPower, maxPower float64) []GenericInputNumber {
	return []GenericInputNumber{{
		Device:   IdDevice(bridgeDevice),
		Id:       INPUT_NUMBER_ID_MANUAL_POWER,
		Name:     "Manual power",
		UniqueId: uniqueId(bridgeDevice.Id, INPUT_NUMBER_ID_MANUAL_POWER),
		Icon:     "mdi:flash",
		Unit:     "W",
		Min:      minPower,
		Max:      maxPower,
		Step:     10,
		Mode:     INPUT_NUMBER_MODE_BOX,
	}}
}

func powerSensor(device HADevice, id, name string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(device.Id, id),
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
