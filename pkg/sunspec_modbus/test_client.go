package sunspec_modbus

import "sync/atomic"

func CreateTestACMeterModbusReader() (ACMeterModbusReader, error) {
	return NewTestACMeterModbusReader(-1250), nil
}

// NewTestACMeterModbusReader returns an in-memory meter reporting powerWatt
// until SetPower is called.
func NewTestACMeterModbusReader(powerWatt float64) *TestACMeterModbusReader {
	reader := &TestACMeterModbusReader{}
	reader.SetPower(powerWatt)
	return reader
}

type TestACMeterModbusReader struct {
	deciWatt atomic.Int64
}

func (reader *TestACMeterModbusReader) SetPower(powerWatt float64) {
	reader.deciWatt.Store(int64(powerWatt * 10))
}

func (reader *TestACMeterModbusReader) power() float64 {
	return float64(reader.deciWatt.Load()) / 10
}

func (reader *TestACMeterModbusReader) Open() error {
	return nil
}

func (reader *TestACMeterModbusReader) Close() error {
	return nil
}

func (reader *TestACMeterModbusReader) Validate() error {
	return nil
}

func (reader *TestACMeterModbusReader) GetInfo() (*ACMeterInfo, error) {
	return &ACMeterInfo{
		Manufacturer: "Zendure2MQTT",
		Model:        "Smart Meter TS 65A-3",
		Version:      "1.2",
	}, nil
}

func (reader *TestACMeterModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	return reader.power(), nil
}

func (reader *TestACMeterModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	power := reader.power()
	return &ACMeterPowerFlow{
		CurrentPowerFlowWatt:   power,
		PhasePowerWatt:         [3]float64{power, 0, 0},
		CurrentImportPowerWatt: max(power, 0),
		CurrentExportPowerWatt: max(-power, 0),
		TotalEnergyExportedKWh: 2770.34,
		TotalEnergyImportedKWh: 550.22,
		Frequency:              50,
		PhaseAVoltage:          234.24,
	}, nil
}
