package sunspec_modbus

import (
	"errors"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

const (
	SUNSPEC_BASE_ADDR        = 40000
	SUNSPEC_WK_COMMON        = 1
	SUNSPEC_WK_METER_MIN     = 201
	SUNSPEC_WK_METER_MAX     = 204
	SUNSPEC_WK_END           = 0xFFFF
	sunspecMaxSurveyedBlocks = 10
	sunspecBlockHeaderLength = 2
)

var ErrNotSunSpec = errors.New("could not find a SunSpec device")

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == SUNSPEC_WK_END
}

func surveyModbusBlock(client *modbus.ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	header, err := client.ReadRegisters(baseAddr, sunspecBlockHeaderLength, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       header[0],
		length:   header[1],
		baseAddr: baseAddr,
	}, nil
}

// surveyBlocks walks the SunSpec model chain and calls visit for every block
// until visit returns true, the end marker is found or the block limit is hit.
func surveyBlocks(reader ModbusClient, visit func(block *modbusBlock) bool) error {
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return ErrNotSunSpec
	}

	var baseAddr uint16 = SUNSPEC_BASE_ADDR + 2
	for n := 0; n <= sunspecMaxSurveyedBlocks; n++ {
		block, err := surveyModbusBlock(reader.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() || visit(block) {
			return nil
		}
		baseAddr = baseAddr + block.length + sunspecBlockHeaderLength
	}
	return nil
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if logger == nil || !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus timing", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}
