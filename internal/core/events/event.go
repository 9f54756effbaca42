package events

import (
	. "github.com/berfenger/zendure2mqtt/internal/core/domain"
)

func CycleToUpdateEvents(result CycleResult) []any {
	var events []any

	if result.Skipped {
		return events
	}

	// Smoothed setpoint
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_SETPOINT,
		},
		Value:    float64(result.Setpoint),
		Decimals: 0,
	})
	// Total solar
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_SOLAR_TOTAL,
		},
		Value:    float64(result.Solar),
		Decimals: 0,
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_SOLAR_ONLY,
		},
		Value: result.SolarOnly,
	})

	return events
}

func MeterToUpdateEvents(powerWatt int) []any {
	return []any{FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_POWER,
		},
		Value:    float64(powerWatt),
		Decimals: 0,
	}}
}

func DeviceToUpdateEvents(d DeviceSnapshot) []any {
	var events []any

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_POWER_SETPOINT),
		},
		Value: float64(d.PowerSetpoint),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_HOME_POWER),
		},
		Value: float64(d.HomePower),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_SOLAR_POWER),
		},
		Value: float64(d.SolarPower),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_LEVEL),
		},
		Value: d.Level,
	})
	// Wh to kWh
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_AVAILABLE_ENERGY),
		},
		Value:    d.AvailableWh / 1000,
		Decimals: 3,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_STATUS),
		},
		Value: d.Status,
	})

	return events
}

func StateToUpdateEvents(state DistributionState) []any {
	var events []any
	for _, d := range state.Devices {
		events = append(events, DeviceToUpdateEvents(d)...)
	}
	return events
}

func OperatingModeUpdateEvents(mode OperatingMode) any {
	return SelectUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SELECT_ID_OPERATING_MODE,
		},
		Value: mode.String(),
	}
}

func ManualPowerUpdateEvents(powerWatt int) any {
	return InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_MANUAL_POWER,
		},
		Value: float64(powerWatt),
	}
}
