package domain

import "time"

// DeviceCommand is the outcome of one device in a control cycle.
type DeviceCommand struct {
	DeviceId      string
	ProductKey    string
	Requested     int
	Accepted      int
	PowerSetpoint int
	Changed       bool
}

type CycleResult struct {
	Time      time.Time
	Meter     int
	Setpoint  int
	Solar     int
	SolarOnly bool
	Mode      OperatingMode
	Skipped   bool
	Commands  []DeviceCommand
}

// Changed returns the commands whose committed setpoint moved this cycle.
func (r CycleResult) Changed() []DeviceCommand {
	var changed []DeviceCommand
	for _, c := range r.Commands {
		if c.Changed {
			changed = append(changed, c)
		}
	}
	return changed
}

type DistributionState struct {
	Mode        string           `json:"mode" yaml:"mode"`
	ManualPower int              `json:"manual_power" yaml:"manual_power"`
	Setpoint    int              `json:"setpoint" yaml:"setpoint"`
	Solar       int              `json:"solar" yaml:"solar"`
	SolarOnly   bool             `json:"solar_only" yaml:"solar_only"`
	LastMeter   int              `json:"last_meter" yaml:"last_meter"`
	LastUpdate  time.Time        `json:"last_update" yaml:"last_update"`
	Devices     []DeviceSnapshot `json:"devices" yaml:"devices"`
}
