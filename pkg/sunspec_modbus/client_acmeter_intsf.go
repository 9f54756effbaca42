package sunspec_modbus

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// register offsets inside the meter model (201-204), header included
const (
	meterOffsetPhaseAVoltage  = 8
	meterOffsetVoltageSF      = 15
	meterOffsetFrequency      = 16
	meterOffsetTotalPower     = 18
	meterOffsetEnergyExported = 38
	meterOffsetEnergyImported = 46
	meterOffsetEnergySF       = 54
	meterPowerRegisters       = 5
)

type acMeterIntSFModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *acMeterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

// ACMeterIntSFModbusReader reads a SunSpec grid meter using the integer + scale factor models.
type ACMeterIntSFModbusReader struct {
	ModbusClient
	blocks        acMeterIntSFModbusBlocks
	ignoreFronius bool
}

func CreateACMeterIntSFModbusReader(ip string, port uint, acMeterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	var inst []ModbusInstrument
	if logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "acMeter"), zap.Uint8("unit", acMeterAddress))); logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if err = client.SetUnitId(acMeterAddress); err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		ignoreFronius: ignoreFronius,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	return reader.survey()
}

func (reader *ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *ACMeterIntSFModbusReader) Validate() error {
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return ErrNotSunSpec
	}
	if reader.ignoreFronius {
		return nil
	}
	str, err = reader.readString(SUNSPEC_BASE_ADDR+4, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return errors.New("could not find a Fronius smart meter")
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) GetInfo() (*ACMeterInfo, error) {
	manufacturer, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}

	return &ACMeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

// readPower returns total and per phase power from a single register read.
func (reader *ACMeterIntSFModbusReader) readPower() (float64, [3]float64, error) {
	regs, err := reader.readRegisters(reader.blocks.acMeter+meterOffsetTotalPower, meterPowerRegisters, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, [3]float64{}, err
	}
	sf := regs[4]
	phases := [3]float64{
		reader.applySFint16(int16(regs[1]), sf),
		reader.applySFint16(int16(regs[2]), sf),
		reader.applySFint16(int16(regs[3]), sf),
	}
	return reader.applySFint16(int16(regs[0]), sf), phases, nil
}

func (reader *ACMeterIntSFModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	total, _, err := reader.readPower()
	return total, err
}

func (reader *ACMeterIntSFModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	totalRealPower, phases, err := reader.readPower()
	if err != nil {
		return nil, err
	}
	totalEnergyExported, err := reader.readUint32(reader.blocks.acMeter+meterOffsetEnergyExported, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	totalEnergyImported, err := reader.readUint32(reader.blocks.acMeter+meterOffsetEnergyImported, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	totWhSF, err := reader.readRegister(reader.blocks.acMeter+meterOffsetEnergySF, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	freq, err := reader.readRegisters(reader.blocks.acMeter+meterOffsetFrequency, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	phaseAVoltage, err := reader.readRegister(reader.blocks.acMeter+meterOffsetPhaseAVoltage, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	voltageSF, err := reader.readRegister(reader.blocks.acMeter+meterOffsetVoltageSF, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	return &ACMeterPowerFlow{
		CurrentPowerFlowWatt:   totalRealPower,
		PhasePowerWatt:         phases,
		CurrentImportPowerWatt: math.Max(totalRealPower, 0),
		CurrentExportPowerWatt: math.Max(-totalRealPower, 0),
		TotalEnergyExportedKWh: reader.applySFuint32(totalEnergyExported, totWhSF) / 1000,
		TotalEnergyImportedKWh: reader.applySFuint32(totalEnergyImported, totWhSF) / 1000,
		Frequency:              reader.applySF(freq[0], freq[1]),
		PhaseAVoltage:          reader.applySF(phaseAVoltage, voltageSF),
	}, nil
}

func (reader *ACMeterIntSFModbusReader) survey() error {
	blocks := acMeterIntSFModbusBlocks{}
	err := surveyBlocks(reader.ModbusClient, func(block *modbusBlock) bool {
		switch {
		case block.id == SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case block.id >= SUNSPEC_WK_METER_MIN && block.id <= SUNSPEC_WK_METER_MAX:
			blocks.acMeter = block.baseAddr
		}
		return blocks.AllBlocksDefined()
	})
	if err != nil {
		return err
	}
	if !blocks.AllBlocksDefined() {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	reader.blocks = blocks
	return nil
}
