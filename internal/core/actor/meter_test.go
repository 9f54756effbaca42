package actor

import (
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/zendure2mqtt/internal/adapter/actor"
	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/util"
	"github.com/berfenger/zendure2mqtt/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sampleSink struct {
	mu      sync.Mutex
	samples []domain.MeterSampleRequest
}

func (s *sampleSink) Receive(ctx actor.Context) {
	if msg, ok := ctx.Message().(domain.MeterSampleRequest); ok {
		s.mu.Lock()
		s.samples = append(s.samples, msg)
		s.mu.Unlock()
	}
}

func (s *sampleSink) Samples() []domain.MeterSampleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MeterSampleRequest(nil), s.samples...)
}

func TestMeterActorPollsModbus(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	cfg := util.LoadTestConfig()
	cfg.Meter.Factor = -1
	logger := zap.Must(zap.NewDevelopment())

	reader := sunspec_modbus.NewTestACMeterModbusReader(-1250)
	modbusPID, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewModbusActor(reader, logger)
	}), domain.ACTOR_ID_MODBUS)
	require.NoError(t, err)

	sink := &sampleSink{}
	sinkPID := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return sink
	}))

	meterPID, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(&cfg, modbusPID, sinkPID, logger)
	}), domain.ACTOR_ID_METER)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(sink.Samples()) >= 1
	}, 3*time.Second, 50*time.Millisecond)
	// factor -1 turns the exporting reading into a positive sample
	assert.Equal(t, 1250, sink.Samples()[0].PowerWatt)
	assert.Equal(t, []int{1250, 0, 0}, sink.Samples()[0].PhasePowerWatt)

	res, err := as.Root.RequestFuture(meterPID, domain.GetDevicesInfoRequest{}, time.Second).Result()
	require.NoError(t, err)
	info, ok := res.(domain.GetDevicesInfoResponse)
	require.True(t, ok)
	require.NotNil(t, info.ACMeter)
	assert.Equal(t, "Smart Meter TS 65A-3", info.ACMeter.Model)

	res, err = as.Root.RequestFuture(meterPID, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, health.Healthy)
}
