package domain

import (
	"errors"
	"fmt"
	"time"
)

type BatteryPack struct {
	Serial     string
	Model      string
	CapacityWh float64
	LastSeen   time.Time

	SocLevel     Entity
	State        Entity
	Power        Entity
	MaxTemp      Entity
	TotalVoltage Entity
	Current      Entity
	MaxVoltage   Entity
	MinVoltage   Entity
}

func NewBatteryPack(serial string, now time.Time) *BatteryPack {
	model, capacity := packModel(serial)
	return &BatteryPack{
		Serial:     serial,
		Model:      model,
		CapacityWh: capacity,
		LastSeen:   now,
	}
}

// packModel derives model and capacity from the serial number prefix.
func packModel(serial string) (string, float64) {
	if serial == "" {
		return "Unknown", 0
	}
	var fourth byte
	if len(serial) > 3 {
		fourth = serial[3]
	}
	switch serial[0] {
	case 'A':
		if fourth == '3' {
			return "AIO2400", 2400
		}
		return "AB1000", 960
	case 'B':
		return "AB1000S", 960
	case 'C':
		switch fourth {
		case 'F':
			return "AB2000S", 1920
		case 'E':
			return "AB2000X", 1920
		}
		return "AB2000", 1920
	case 'F':
		return "AB3000", 2880
	default:
		return "Unknown", 0
	}
}

// Apply updates the pack from one packData entry and returns its power.
func (p *BatteryPack) Apply(props map[string]any, now time.Time) (int, error) {
	var errs []error
	for key, raw := range props {
		if key == FIELD_PACK_SERIAL {
			continue
		}
		value, err := NumberValue(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("pack %s %s: %w", p.Serial, key, err))
			continue
		}
		switch key {
		case FIELD_PACK_SOC_LEVEL:
			p.SocLevel.Update(value)
		case FIELD_PACK_STATE:
			p.State.Update(value)
		case FIELD_PACK_POWER:
			p.Power.Update(value)
		case FIELD_PACK_MAX_TEMP:
			p.MaxTemp.Update(value)
		case FIELD_PACK_TOTAL_VOLTAGE:
			p.TotalVoltage.Update(value)
		case FIELD_PACK_CURRENT:
			p.Current.Update(value)
		case FIELD_PACK_MAX_VOLTAGE:
			p.MaxVoltage.Update(value)
		case FIELD_PACK_MIN_VOLTAGE:
			p.MinVoltage.Update(value)
		}
	}
	p.LastSeen = now
	return p.Power.Int(), errors.Join(errs...)
}
