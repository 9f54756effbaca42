package domain

// Device descriptor used by Home Assistant discovery.
type HADevice struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            HADevice
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // power, energy, battery
	EntityCategory    string // diagnostic, config
	EnabledByDefault  *bool
	Icon              string
}

type GenericSelect struct {
	Device   HADevice
	Id       string
	Name     string
	UniqueId string
	Icon     string
	Options  []string
}

type GenericInputNumber struct {
	Device       HADevice
	Id           string
	Name         string
	UniqueId     string
	Icon         string
	Unit         string
	Max          float64
	Min          float64
	Step         float64
	Mode         string
	InitialValue float64
}
