package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/util/actorutil"
	"github.com/berfenger/zendure2mqtt/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetDevicesInfoModbusActor(t *testing.T) {

	assert := assert.New(t)

	acMeter, err := sunspec_modbus.CreateTestACMeterModbusReader()
	require.NoError(t, err)

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(acMeter, logger) })
	pid := context.Spawn(props)

	msg := domain.GetDevicesInfoRequest{}
	result, err := context.RequestFuture(pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetDevicesInfoResponse)

	require.NoError(t, resp.GetResponseError())
	assert.Equal("Zendure2MQTT", resp.ACMeter.Manufacturer, "meter manufacturer")
	assert.Equal("Smart Meter TS 65A-3", resp.ACMeter.Model, "meter model")
	assert.Equal("1.2", resp.ACMeter.Version, "meter version")

	context.Stop(pid)

	as.Shutdown()
}

func TestGetPowerFlowModbusActor(t *testing.T) {

	assert := assert.New(t)

	acMeter := sunspec_modbus.NewTestACMeterModbusReader(-1250)

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(acMeter, logger) })
	pid := context.Spawn(props)

	// requests queue behind each other while the meter is busy
	f1 := context.RequestFuture(pid, domain.GetPowerFlowRequest{}, 5*time.Second)
	f2 := context.RequestFuture(pid, domain.GetPowerFlowRequest{}, 5*time.Second)

	for _, f := range []*actor.Future{f1, f2} {
		result, err := f.Result()
		require.NoError(t, err)
		resp := result.(domain.GetPowerFlowResponse)
		require.NoError(t, resp.GetResponseError())
		assert.Equal(-1250.0, resp.ACMeter.CurrentPowerFlowWatt)
		assert.Equal(1250.0, resp.ACMeter.CurrentExportPowerWatt)
		assert.Equal(0.0, resp.ACMeter.CurrentImportPowerWatt)
	}

	acMeter.SetPower(310.5)
	result, err := context.RequestFuture(pid, domain.GetPowerFlowRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(310.5, result.(domain.GetPowerFlowResponse).ACMeter.CurrentPowerFlowWatt)

	context.Stop(pid)

	as.Shutdown()
}

type failingMeter struct {
	sunspec_modbus.TestACMeterModbusReader
}

func (*failingMeter) GetPowerFlow() (*sunspec_modbus.ACMeterPowerFlow, error) {
	return nil, errors.New("modbus: request timed out")
}

func TestPowerFlowErrorIsReturned(t *testing.T) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(&failingMeter{}, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.GetPowerFlowRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetPowerFlowResponse)
	assert.True(t, resp.HasResponseError())
	assert.Nil(t, resp.ACMeter)

	context.Stop(pid)
	as.Shutdown()
}
