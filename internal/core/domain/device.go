package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	DEFAULT_CHARGE_LIMIT    = -1200
	DEFAULT_DISCHARGE_LIMIT = 1200
	DEFAULT_MIN_SOC         = 10
	DEFAULT_MAX_SOC         = 90
	// hub reports soc bounds in permille
	SOC_FACTOR = 0.1
)

// Device is one battery hub. Power values are in Watts, positive when the
// device feeds the home and negative when it charges.
type Device struct {
	Id         string
	ProductKey string
	Name       string
	// FuseGroup names the group the device belongs to; the group owns membership.
	FuseGroup string

	Status     DeviceStatus
	Limits     PowerLimits
	CapacityWh float64
	// CapacityOverrideWh replaces the pack derived capacity when > 0.
	CapacityOverrideWh float64
	Level              float64
	AvailableWh        float64

	ElectricLevel    Entity
	GridInputPower   Entity
	OutputHomePower  Entity
	OutputPackPower  Entity
	PackInputPower   Entity
	HomePower        Entity
	SolarPower       Entity
	OffGridPower     Entity
	BatteryPower     Entity
	SocStatus        Entity
	SocLimit         Entity
	MinSoc           Entity
	SocSet           Entity
	InputLimit       Entity
	OutputLimit      Entity
	ConnectionStatus Entity
	ByPass           Entity

	PowerSetpoint int
	PowerOffset   int
	// PowerLimit is the fuse group ceiling of the current cycle.
	PowerLimit    int
	CommitReadyAt time.Time
	LastReport    time.Time

	packs      map[string]*BatteryPack
	packOutput int
}

func NewDevice(id string) *Device {
	d := &Device{
		Id:     id,
		Name:   id,
		Status: DeviceStatusCreated,
		MinSoc: NewEntity(SOC_FACTOR),
		SocSet: NewEntity(SOC_FACTOR),
		packs:  map[string]*BatteryPack{},
	}
	d.MinSoc.Set(DEFAULT_MIN_SOC)
	d.SocSet.Set(DEFAULT_MAX_SOC)
	d.SetLimits(DEFAULT_CHARGE_LIMIT, DEFAULT_DISCHARGE_LIMIT)
	return d
}

// SetLimits stores charge and discharge ceilings, keeping charge <= 0 <= discharge.
func (d *Device) SetLimits(charge, discharge int) {
	d.Limits = PowerLimits{min(charge, 0), max(discharge, 0)}
	d.InputLimit.Set(float64(d.Limits[0]))
	d.OutputLimit.Set(float64(d.Limits[1]))
}

// ApplyReport absorbs one telemetry report. Fields that fail to parse are
// skipped and returned joined; the device keeps their previous values.
func (d *Device) ApplyReport(report DeviceReport, now time.Time) error {
	var errs []error
	derive := false
	direct := false
	for key, raw := range report.Properties {
		value, err := NumberValue(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		switch key {
		case FIELD_GRID_INPUT_POWER, FIELD_OUTPUT_HOME_POWER, FIELD_GRID_OFF_POWER:
			derive = true
		case FIELD_HOME_POWER:
			direct = true
		}
		// hubs report many properties the controller does not use
		if err := d.applyField(key, value); err != nil && !errors.Is(err, ErrUnknownField) {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if len(report.PackData) > 0 {
		d.packOutput = 0
		attached := false
		for _, props := range report.PackData {
			sn, _ := props[FIELD_PACK_SERIAL].(string)
			if sn == "" {
				continue
			}
			pack, ok := d.packs[sn]
			if !ok {
				pack = NewBatteryPack(sn, now)
				d.packs[sn] = pack
				attached = true
			}
			power, err := pack.Apply(props, now)
			if err != nil {
				errs = append(errs, err)
			}
			d.packOutput += power
		}
		if attached {
			d.refreshCapacity()
		}
	}

	if derive && !direct {
		d.HomePower.Set(float64(d.derivedHomePower()))
	}
	d.refreshLevel()
	d.LastReport = now
	return errors.Join(errs...)
}

func (d *Device) applyField(key string, value float64) error {
	switch key {
	case FIELD_GRID_INPUT_POWER:
		d.GridInputPower.Update(value)
	case FIELD_OUTPUT_HOME_POWER:
		d.OutputHomePower.Update(value)
	case FIELD_OUTPUT_PACK_POWER:
		d.OutputPackPower.Update(value)
		d.BatteryPower.Set(float64(d.PackInputPower.Int() - d.OutputPackPower.Int()))
	case FIELD_PACK_INPUT_POWER:
		d.PackInputPower.Update(value)
		d.BatteryPower.Set(float64(d.PackInputPower.Int() - d.OutputPackPower.Int()))
	case FIELD_SOLAR_INPUT_POWER, FIELD_SOLAR_POWER:
		d.SolarPower.Update(value)
	case FIELD_GRID_OFF_POWER, FIELD_OFF_GRID:
		d.OffGridPower.Update(value)
	case FIELD_ELECTRIC_LEVEL:
		d.ElectricLevel.Update(value)
	case FIELD_INVERSE_MAX_POWER:
		d.SetLimits(d.Limits[0], int(value))
	case FIELD_CHARGE_LIMIT, FIELD_CHARGE_MAX_LIMIT:
		d.SetLimits(-int(value), d.Limits[1])
	case FIELD_HOME_POWER:
		d.HomePower.Update(value)
	case FIELD_BATTERY_POWER:
		d.BatteryPower.Update(value)
	case FIELD_SOC_STATUS:
		d.SocStatus.Update(value)
	case FIELD_SOC_LIMIT:
		d.SocLimit.Update(value)
	case FIELD_MIN_SOC:
		d.MinSoc.Update(value)
	case FIELD_SOC_SET:
		d.SocSet.Update(value)
	case FIELD_INPUT_LIMIT:
		d.InputLimit.Update(value)
	case FIELD_OUTPUT_LIMIT:
		d.OutputLimit.Update(value)
	case FIELD_CONNECTION_STATUS:
		d.ConnectionStatus.Update(value)
	case FIELD_BYPASS:
		d.ByPass.Update(value)
	default:
		return ErrUnknownField
	}
	return nil
}

// derivedHomePower nets grid input against off-grid output when both are present.
func (d *Device) derivedHomePower() int {
	gridInput := d.GridInputPower.Int()
	offGrid := d.OffGridPower.Int()
	if gridInput > 0 && offGrid > 0 {
		return -gridInput + (offGrid - d.packOutput)
	}
	return d.OutputHomePower.Int()
}

func (d *Device) refreshCapacity() {
	if d.CapacityOverrideWh > 0 {
		d.CapacityWh = d.CapacityOverrideWh
		return
	}
	total := 0.0
	for _, p := range d.packs {
		total += p.CapacityWh
	}
	d.CapacityWh = total
}

// MaxAvailableEnergy is the usable energy between minimum and maximum SOC.
func (d *Device) MaxAvailableEnergy() float64 {
	return d.CapacityWh * (d.SocSet.Number() - d.MinSoc.Number()) / 100
}

func (d *Device) refreshLevel() {
	d.refreshCapacity()
	d.SetAvailableEnergy(d.CapacityWh * (d.ElectricLevel.Number() - d.MinSoc.Number()) / 100)
}

// SetAvailableEnergy clamps wh into the usable range and recomputes Level.
func (d *Device) SetAvailableEnergy(wh float64) {
	limit := d.MaxAvailableEnergy()
	if limit <= 0 {
		d.AvailableWh = 0
		d.Level = 0
		return
	}
	d.AvailableWh = math.Max(0, math.Min(wh, limit))
	d.Level = math.Max(0, math.Min(100, math.Round(100*d.AvailableWh/limit)))
}

// Distribute commands the device to deliver power and returns the power it
// accepted. Commands within tolerance of the current home power keep the
// previous commit and return its accepted power.
func (d *Device) Distribute(power int, tolerance int, now time.Time) int {
	target := power + d.PowerOffset
	delta := abs(target - d.HomePower.Int())
	if delta <= tolerance {
		return d.PowerSetpoint + d.PowerOffset
	}
	target = d.Limits.Clamp(target)

	if target < 0 && d.Level >= 99.99 {
		target = 0
	} else if d.Level == 0 {
		target = d.Limits.Clamp(min(d.SolarPower.Int(), target))
	}

	d.PowerSetpoint = target
	if power != target {
		d.CommitReadyAt = now.Add(3*time.Second + time.Duration(float64(delta)/250*float64(time.Second)))
	}
	return target + d.PowerOffset
}

// Settled reports whether the ramp delay of the last commit has passed.
func (d *Device) Settled(now time.Time) bool {
	return !now.Before(d.CommitReadyAt)
}

func (d *Device) Idle() bool {
	return d.HomePower.Int() == 0
}

// Weight is the allocation weight: free headroom when charging, stored energy when discharging.
func (d *Device) Weight(dir Direction) float64 {
	if dir == DirectionCharge {
		if d.Level < 100 {
			return d.CapacityWh - d.AvailableWh
		}
		return 0
	}
	if d.Level > 0 {
		return d.AvailableWh
	}
	return 0
}

// PriorityKey orders devices for allocation. Running devices are nudged ahead of idle ones.
func (d *Device) PriorityKey(dir Direction) float64 {
	nudge := 0.0
	if !d.Idle() {
		nudge = 3
	}
	if dir == DirectionCharge {
		return d.Level - nudge
	}
	return d.Level + nudge
}

func (d *Device) Packs() []*BatteryPack {
	packs := make([]*BatteryPack, 0, len(d.packs))
	for _, p := range d.packs {
		packs = append(packs, p)
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].Serial < packs[j].Serial })
	return packs
}

// PrunePacks detaches packs not reported within maxAge and returns their serials.
func (d *Device) PrunePacks(now time.Time, maxAge time.Duration) []string {
	var removed []string
	for sn, p := range d.packs {
		if now.Sub(p.LastSeen) > maxAge {
			delete(d.packs, sn)
			removed = append(removed, sn)
		}
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		d.refreshLevel()
	}
	return removed
}

type DeviceSnapshot struct {
	Id            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	FuseGroup     string    `json:"fuse_group" yaml:"fuse_group"`
	Status        string    `json:"status" yaml:"status"`
	CapacityWh    float64   `json:"capacity_wh" yaml:"capacity_wh"`
	Level         float64   `json:"level" yaml:"level"`
	AvailableWh   float64   `json:"available_wh" yaml:"available_wh"`
	HomePower     int       `json:"home_power" yaml:"home_power"`
	SolarPower    int       `json:"solar_power" yaml:"solar_power"`
	OffGridPower  int       `json:"off_grid_power" yaml:"off_grid_power"`
	BatteryPower  int       `json:"battery_power" yaml:"battery_power"`
	PowerSetpoint int       `json:"power_setpoint" yaml:"power_setpoint"`
	PowerLimits   [2]int    `json:"power_limits" yaml:"power_limits"`
	Packs         int       `json:"packs" yaml:"packs"`
	CommitReadyAt time.Time `json:"commit_ready_at" yaml:"commit_ready_at"`
	Settled       bool      `json:"settled" yaml:"settled"`
}

// Snapshot captures the device state; Settled is evaluated at now.
func (d *Device) Snapshot(now time.Time) DeviceSnapshot {
	return DeviceSnapshot{
		Id:            d.Id,
		Name:          d.Name,
		FuseGroup:     d.FuseGroup,
		Status:        d.Status.String(),
		CapacityWh:    d.CapacityWh,
		Level:         d.Level,
		AvailableWh:   d.AvailableWh,
		HomePower:     d.HomePower.Int(),
		SolarPower:    d.SolarPower.Int(),
		OffGridPower:  d.OffGridPower.Int(),
		BatteryPower:  d.BatteryPower.Int(),
		PowerSetpoint: d.PowerSetpoint,
		PowerLimits:   d.Limits,
		Packs:         len(d.packs),
		CommitReadyAt: d.CommitReadyAt,
		Settled:       d.Settled(now),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
