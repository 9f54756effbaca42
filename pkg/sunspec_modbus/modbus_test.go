package sunspec_modbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	USE_MOCKED_READER = true
)

func TestMeter(t *testing.T) {
	reader := ACMeterReader()

	require.NoError(t, reader.Open())
	defer reader.Close()
	require.NoError(t, reader.Validate())

	info, err := reader.GetInfo()
	require.NoError(t, err)
	assert.NotEmpty(t, info.Manufacturer)

	power, err := reader.GetPowerFlow()
	require.NoError(t, err)
	assert.Equal(t, power.CurrentImportPowerWatt-power.CurrentExportPowerWatt, power.CurrentPowerFlowWatt)
	assert.GreaterOrEqual(t, power.TotalEnergyImportedKWh, 0.0)
	assert.GreaterOrEqual(t, power.TotalEnergyExportedKWh, 0.0)
}

func TestTestMeterSetPower(t *testing.T) {
	reader := NewTestACMeterModbusReader(300)
	power, err := reader.GetCurrentPowerFlowWatt()
	require.NoError(t, err)
	assert.Equal(t, 300.0, power)

	reader.SetPower(-42.5)
	flow, err := reader.GetPowerFlow()
	require.NoError(t, err)
	assert.Equal(t, -42.5, flow.CurrentPowerFlowWatt)
	assert.Equal(t, 42.5, flow.CurrentExportPowerWatt)
	assert.Equal(t, 0.0, flow.CurrentImportPowerWatt)
}

func TestScaleFactors(t *testing.T) {
	reader := ModbusClient{}
	// 0xFFFE = -2
	assert.InDelta(t, 50.01, reader.applySF(5001, 0xFFFE), 0.0001)
	assert.InDelta(t, -1234.0, reader.applySFint16(-12340, 0xFFFF), 0.0001)
	assert.InDelta(t, 1500000.0, reader.applySFuint32(1500, 3), 0.0001)
}

func TestRecordTimer(t *testing.T) {
	var calls []string
	inst := []ModbusInstrument{{RecordTime: func(fnName string, _ time.Duration) {
		calls = append(calls, fnName)
	}}}
	RecordTimer("ReadRegister", inst)()
	RecordTimer("ReadRegister", nil)()
	assert.Equal(t, []string{"ReadRegister"}, calls)
}

func RealACMeterReader() ACMeterModbusReader {
	logger := zap.Must(zap.NewDevelopment())
	reader, err := CreateACMeterIntSFModbusReader("-.-.-.-", 502, 240, 1*time.Second, false, logger, nil)
	if err != nil {
		panic(err)
	}
	return reader
}

func MockedACMeterReader() ACMeterModbusReader {
	reader, err := CreateTestACMeterModbusReader()
	if err != nil {
		panic(err)
	}
	return reader
}

func ACMeterReader() ACMeterModbusReader {
	if USE_MOCKED_READER {
		return MockedACMeterReader()
	}
	return RealACMeterReader()
}
