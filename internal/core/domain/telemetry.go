package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// device property names reported by the hub
const (
	FIELD_GRID_INPUT_POWER   = "gridInputPower"
	FIELD_OUTPUT_HOME_POWER  = "outputHomePower"
	FIELD_OUTPUT_PACK_POWER  = "outputPackPower"
	FIELD_PACK_INPUT_POWER   = "packInputPower"
	FIELD_SOLAR_INPUT_POWER  = "solarInputPower"
	FIELD_GRID_OFF_POWER     = "gridOffPower"
	FIELD_ELECTRIC_LEVEL     = "electricLevel"
	FIELD_INVERSE_MAX_POWER  = "inverseMaxPower"
	FIELD_CHARGE_LIMIT       = "chargeLimit"
	FIELD_CHARGE_MAX_LIMIT   = "chargeMaxLimit"
	FIELD_HOME_POWER         = "homePower"
	FIELD_BATTERY_POWER      = "batteryPower"
	FIELD_SOLAR_POWER        = "solarPower"
	FIELD_OFF_GRID           = "offGrid"
	FIELD_SOC_STATUS         = "socStatus"
	FIELD_SOC_LIMIT          = "socLimit"
	FIELD_MIN_SOC            = "minSoc"
	FIELD_SOC_SET            = "socSet"
	FIELD_INPUT_LIMIT        = "inputLimit"
	FIELD_OUTPUT_LIMIT       = "outputLimit"
	FIELD_CONNECTION_STATUS  = "connectionStatus"
	FIELD_BYPASS             = "byPass"
	FIELD_PACK_SERIAL        = "sn"
	FIELD_PACK_SOC_LEVEL     = "socLevel"
	FIELD_PACK_STATE         = "state"
	FIELD_PACK_POWER         = "power"
	FIELD_PACK_MAX_TEMP      = "maxTemp"
	FIELD_PACK_TOTAL_VOLTAGE = "totalVol"
	FIELD_PACK_CURRENT       = "batcur"
	FIELD_PACK_MAX_VOLTAGE   = "maxVol"
	FIELD_PACK_MIN_VOLTAGE   = "minVol"
)

// DeviceReport is one properties/report message of a device.
type DeviceReport struct {
	DeviceId   string           `json:"deviceId"`
	Properties map[string]any   `json:"properties,omitempty"`
	PackData   []map[string]any `json:"packData,omitempty"`
}

func ParseDeviceReport(payload []byte) (*DeviceReport, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var report DeviceReport
	if err := dec.Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// NumberValue converts a decoded JSON value to a float.
func NumberValue(value any) (float64, error) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrMalformedValue, v)
		}
		return f, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedValue, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrMalformedValue, value)
	}
}
