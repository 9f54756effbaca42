package simulator

import (
	"math"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/core/service"

	"go.uber.org/zap"
)

const (
	// capacity assumed for devices whose packs never showed up in the log
	DEFAULT_CAPACITY_WH = 4000
	// ceiling of the per-device circuit used during replay
	DEVICE_FUSE_LIMIT = 3200
)

type Options struct {
	StartPower     int
	PowerTolerance int
}

func DefaultOptions() Options {
	return Options{
		StartPower:     service.DEFAULT_START_POWER,
		PowerTolerance: service.DEFAULT_POWER_TOLERANCE,
	}
}

// Simulate replays the recorded meter samples through a fresh Distributor in
// MATCHING mode. Devices follow their committed setpoints instantly and their
// stored energy is integrated between samples.
func Simulate(l *Log, opts Options, logger *zap.Logger) (*Result, error) {
	if l.Len() == 0 {
		return nil, ErrEmptyLog
	}

	settings := service.DefaultSettings()
	if opts.StartPower > 0 {
		settings.StartPower = opts.StartPower
	}
	if opts.PowerTolerance >= 0 {
		settings.PowerTolerance = opts.PowerTolerance
	}
	dist := service.NewDistributor(settings, service.ActiveStatusPolicy{}, logger)
	dist.SetOperatingMode(domain.OperatingModeMatching)

	series := l.Devices()
	result := newResult(l, series)
	for _, s := range series {
		d := s.Device
		if d.CapacityWh <= 0 {
			d.CapacityOverrideWh = DEFAULT_CAPACITY_WH
		}
		d.PowerSetpoint = 0
		d.PowerOffset = 0
		d.CommitReadyAt = time.Time{}
		if s.StartIndex < 0 {
			s.StartIndex = 0
		}
		if err := dist.AddFuseGroup(domain.NewFuseGroup(d.Id, DEVICE_FUSE_LIMIT, -DEVICE_FUSE_LIMIT)); err != nil {
			return nil, err
		}
		d.FuseGroup = d.Id
		if err := dist.AddDevice(d); err != nil {
			return nil, err
		}
	}
	dist.EvaluateStatus(l.Time[0])

	previous := l.Time[0]
	for i, t := range l.Time {
		simMeter := l.Meter[0]
		if i == 0 {
			for j, s := range series {
				start := s.StartIndex
				d := s.Device
				d.HomePower.Set(float64(s.Home[start]))
				d.PowerSetpoint = s.Home[start]
				d.SolarPower.Set(float64(s.Solar[start]))
				d.OffGridPower.Set(float64(s.OffGrid[start]))
				d.ElectricLevel.Set(float64(s.Levels[start]))
				d.CapacityWh = capacity(d)
				d.SetAvailableEnergy(d.CapacityWh * (float64(s.Levels[start]) - d.MinSoc.Number()) / 100)
				result.Devices[j].Level[i] = s.Levels[start]
			}
		} else {
			dt := t.Sub(previous).Seconds()
			simHome := 0
			for j, s := range series {
				d := s.Device
				d.SolarPower.Set(float64(s.Solar[i]))
				d.OffGridPower.Set(float64(s.OffGrid[i]))
				d.HomePower.Set(float64(d.PowerSetpoint))
				simHome += d.PowerSetpoint

				battery := d.HomePower.Int() - d.SolarPower.Int() + d.OffGridPower.Int()
				d.SetAvailableEnergy(d.AvailableWh - float64(battery)*dt/3600)
				result.Devices[j].Level[i] = int(math.Round(100*d.AvailableWh/d.CapacityWh + d.MinSoc.Number()))
			}
			simMeter = l.Consumption[i] - simHome
		}

		cycle := dist.Update(simMeter, t)
		result.record(i, simMeter, cycle, series)
		previous = t
	}

	logger.Info("simulator: replay done", zap.Int("samples", l.Len()), zap.Int("devices", len(series)),
		zap.Float64("grid_import_wh", result.Summary.GridImportWh), zap.Float64("sim_grid_import_wh", result.Summary.SimGridImportWh))
	return result, nil
}

func capacity(d *domain.Device) float64 {
	if d.CapacityOverrideWh > 0 {
		return d.CapacityOverrideWh
	}
	return d.CapacityWh
}
