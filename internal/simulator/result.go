package simulator

import (
	"io"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"gopkg.in/yaml.v3"
)

type Sample struct {
	Time     time.Time `yaml:"time"`
	Meter    int       `yaml:"meter"`
	SimMeter int       `yaml:"sim_meter"`
	Home     int       `yaml:"home"`
	SimHome  int       `yaml:"sim_home"`
	Setpoint int       `yaml:"setpoint"`
	Solar    int       `yaml:"solar"`
	OffGrid  int       `yaml:"off_grid"`
}

// DeviceResult holds per sample series of one device. Settled is false while
// the ramp delay of the last commit is running.
type DeviceResult struct {
	Id         string  `yaml:"id"`
	CapacityWh float64 `yaml:"capacity_wh"`
	Power      []int   `yaml:"power,flow"`
	Level      []int   `yaml:"level,flow"`
	Settled    []bool  `yaml:"settled,flow"`
}

type ModeResult struct {
	Mode string    `yaml:"mode"`
	Time time.Time `yaml:"time"`
}

// Summary integrates grid energy of the recorded and the simulated run.
type Summary struct {
	Samples         int     `yaml:"samples"`
	Seconds         float64 `yaml:"seconds"`
	GridImportWh    float64 `yaml:"grid_import_wh"`
	GridExportWh    float64 `yaml:"grid_export_wh"`
	SimGridImportWh float64 `yaml:"sim_grid_import_wh"`
	SimGridExportWh float64 `yaml:"sim_grid_export_wh"`
}

type Result struct {
	RunId          string         `yaml:"run_id"`
	Source         string         `yaml:"source,omitempty"`
	StartPower     int            `yaml:"start_power"`
	PowerTolerance int            `yaml:"power_tolerance"`
	Summary        Summary        `yaml:"summary"`
	Modes          []ModeResult   `yaml:"modes,omitempty"`
	Devices        []DeviceResult `yaml:"devices"`
	Samples        []Sample       `yaml:"samples"`
}

func newResult(l *Log, series []*DeviceSeries) *Result {
	r := &Result{
		Samples: make([]Sample, l.Len()),
		Devices: make([]DeviceResult, len(series)),
	}
	for j, s := range series {
		r.Devices[j] = DeviceResult{
			Id:      s.Device.Id,
			Power:   make([]int, l.Len()),
			Level:   make([]int, l.Len()),
			Settled: make([]bool, l.Len()),
		}
	}
	for _, m := range l.Modes {
		idx := min(m.Index, l.Len()-1)
		r.Modes = append(r.Modes, ModeResult{Mode: m.Mode.String(), Time: l.Time[idx]})
	}
	for i, t := range l.Time {
		r.Samples[i] = Sample{
			Time:    t,
			Meter:   l.Meter[i],
			Home:    l.DeviceHome[i],
			Solar:   l.Solar[i],
			OffGrid: l.OffGrid[i],
		}
	}
	r.Summary.Samples = l.Len()
	return r
}

func (r *Result) record(i int, simMeter int, cycle domain.CycleResult, series []*DeviceSeries) {
	simHome := 0
	for j, s := range series {
		r.Devices[j].Power[i] = s.Device.PowerSetpoint
		r.Devices[j].Settled[i] = s.Device.Settled(r.Samples[i].Time)
		r.Devices[j].CapacityWh = s.Device.CapacityWh
		simHome += s.Device.PowerSetpoint
	}
	sample := &r.Samples[i]
	sample.SimMeter = simMeter
	sample.SimHome = simHome
	sample.Setpoint = cycle.Setpoint

	if i == 0 {
		return
	}
	// meter values hold until the next sample
	dt := sample.Time.Sub(r.Samples[i-1].Time).Seconds()
	prev := r.Samples[i-1]
	r.Summary.Seconds += dt
	r.Summary.GridImportWh += float64(max(prev.Meter, 0)) * dt / 3600
	r.Summary.GridExportWh += float64(max(-prev.Meter, 0)) * dt / 3600
	r.Summary.SimGridImportWh += float64(max(prev.SimMeter, 0)) * dt / 3600
	r.Summary.SimGridExportWh += float64(max(-prev.SimMeter, 0)) * dt / 3600
}

// WriteYAML writes the result as a YAML document.
func (r *Result) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
