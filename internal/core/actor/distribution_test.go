package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/zendure2mqtt/internal/adapter/actor"
	"github.com/berfenger/zendure2mqtt/internal/config"
	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/metrics"
	"github.com/berfenger/zendure2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func manualTestConfig() config.Config {
	cfg := util.LoadTestConfig()
	cfg.Distribution.OperatingMode = "MANUAL"
	cfg.Distribution.ManualPower = 300
	cfg.Devices[0].CapacityWh = 2000
	return cfg
}

func spawnDistribution(t *testing.T, as *actor.ActorSystem, cfg *config.Config, recorder *adactor.MQTTRecorder) *actor.PID {
	logger := zap.Must(zap.NewDevelopment())
	es := &eventstream.EventStream{}

	mqttPID, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(cfg, es, recorder, logger)
	}), domain.ACTOR_ID_MQTT)
	require.NoError(t, err)

	pid, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return NewDistributionActor(cfg, mqttPID, es, metrics.NewMetrics(), logger)
	}), domain.ACTOR_ID_DISTRIBUTION)
	require.NoError(t, err)
	return pid
}

func hubReport(id string, level float64, now time.Time) domain.DeviceReportRequest {
	return domain.DeviceReportRequest{
		ProductKey: "a8yh63",
		Time:       now,
		Report: domain.DeviceReport{
			DeviceId: id,
			Properties: map[string]any{
				domain.FIELD_ELECTRIC_LEVEL:    level,
				domain.FIELD_OUTPUT_HOME_POWER: 0.0,
				domain.FIELD_SOLAR_INPUT_POWER: 0.0,
			},
		},
	}
}

func distributionState(t *testing.T, as *actor.ActorSystem, pid *actor.PID) domain.DistributionState {
	res, err := as.Root.RequestFuture(pid, domain.GetDistributionStateRequest{}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.GetDistributionStateResponse)
	require.True(t, ok)
	return resp.State
}

func TestDistributionActorCommandsAndStops(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	cfg := manualTestConfig()
	recorder := &adactor.MQTTRecorder{}
	pid := spawnDistribution(t, as, &cfg, recorder)

	now := time.Now()
	as.Root.Send(pid, hubReport("hub1", 50, now))
	as.Root.Send(pid, domain.MeterSampleRequest{PowerWatt: 100, Time: now.Add(time.Second)})

	assert.Eventually(t, func() bool {
		return len(recorder.Commands()) == 1
	}, 2*time.Second, 50*time.Millisecond)
	first := recorder.Commands()[0]
	assert.Equal(t, "hub1", first.DeviceId)
	assert.Equal(t, "a8yh63", first.ProductKey)
	assert.Greater(t, first.PowerWatt, 0)

	res, err := as.Root.RequestFuture(pid, domain.SetOperatingModeRequest{Mode: domain.OperatingModeOff}, time.Second).Result()
	require.NoError(t, err)
	modeResp, ok := res.(domain.SetOperatingModeResponse)
	require.True(t, ok)
	assert.True(t, modeResp.Changed)

	// switching off commands the running hub to zero
	assert.Eventually(t, func() bool {
		return len(recorder.Commands()) == 2
	}, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, 0, recorder.Commands()[1].PowerWatt)

	res, err = as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, health.Healthy)
	assert.Equal(t, "idle", health.State)

	// samples keep flowing but no further commands are sent
	as.Root.Send(pid, domain.MeterSampleRequest{PowerWatt: 400, Time: now.Add(2 * time.Second)})
	state := distributionState(t, as, pid)
	assert.Equal(t, "OFF", state.Mode)
	assert.Len(t, state.Devices, 2)
	assert.Len(t, recorder.Commands(), 2)
}

func TestDistributionActorThrottlesSamples(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	cfg := manualTestConfig()
	cfg.Meter.MinUpdateMillis = 60000
	pid := spawnDistribution(t, as, &cfg, nil)

	now := time.Now()
	as.Root.Send(pid, hubReport("hub1", 50, now))
	as.Root.Send(pid, domain.MeterSampleRequest{PowerWatt: 100, Time: now})
	as.Root.Send(pid, domain.MeterSampleRequest{PowerWatt: 700, Time: now.Add(time.Second)})

	state := distributionState(t, as, pid)
	assert.Equal(t, 100, state.LastMeter)
	assert.Equal(t, 300, state.Setpoint)
	assert.Equal(t, "MANUAL", state.Mode)
}

func TestDistributionActorManualPower(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	cfg := manualTestConfig()
	pid := spawnDistribution(t, as, &cfg, nil)

	res, err := as.Root.RequestFuture(pid, domain.SetManualPowerRequest{PowerWatt: -450}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.SetManualPowerResponse)
	require.True(t, ok)
	assert.Equal(t, -450, resp.PowerWatt)

	as.Root.Send(pid, domain.MeterSampleRequest{PowerWatt: 20, Time: time.Now()})
	state := distributionState(t, as, pid)
	assert.Equal(t, -450, state.ManualPower)
	assert.Equal(t, -450, state.Setpoint)
}

func TestDistributionActorDropsUnknownDevices(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	cfg := manualTestConfig()
	pid := spawnDistribution(t, as, &cfg, nil)

	as.Root.Send(pid, hubReport("stranger", 50, time.Now()))
	state := distributionState(t, as, pid)
	assert.Len(t, state.Devices, 2)

	cfg2 := manualTestConfig()
	cfg2.Distribution.AutoRegister = true
	as2 := actor.NewActorSystem()
	defer as2.Shutdown()
	pid2 := spawnDistribution(t, as2, &cfg2, nil)

	as2.Root.Send(pid2, hubReport("stranger", 50, time.Now()))
	state = distributionState(t, as2, pid2)
	assert.Len(t, state.Devices, 3)
}

func TestDistributionActorHEMS(t *testing.T) {
	as := actor.NewActorSystem()
	defer as.Shutdown()

	cfg := manualTestConfig()
	pid := spawnDistribution(t, as, &cfg, nil)

	res, err := as.Root.RequestFuture(pid, domain.SetHEMSRequest{DeviceId: "hub1", Enabled: true}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.SetHEMSResponse)
	require.True(t, ok)
	require.False(t, resp.HasResponseError())
	assert.Equal(t, domain.DeviceStatusHEMS, resp.Status)

	// reports do not take the device back from the energy manager
	as.Root.Send(pid, hubReport("hub1", 50, time.Now()))
	for _, d := range distributionState(t, as, pid).Devices {
		if d.Id == "hub1" {
			assert.Equal(t, "HEMS", d.Status)
		}
	}

	res, err = as.Root.RequestFuture(pid, domain.SetHEMSRequest{DeviceId: "hub1"}, time.Second).Result()
	require.NoError(t, err)
	resp = res.(domain.SetHEMSResponse)
	assert.NotEqual(t, domain.DeviceStatusHEMS, resp.Status)

	res, err = as.Root.RequestFuture(pid, domain.SetHEMSRequest{DeviceId: "nope", Enabled: true}, time.Second).Result()
	require.NoError(t, err)
	resp = res.(domain.SetHEMSResponse)
	assert.ErrorIs(t, resp.GetResponseError(), domain.ErrUnknownDevice)
}

func TestNewDistributorFromConfig(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Devices[1].MinSoc = 20
	cfg.Devices[1].MaxSoc = 80

	s, err := NewDistributorFromConfig(&cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, domain.OperatingModeMatching, s.OperatingMode())
	assert.Len(t, s.Devices(), 2)

	d, ok := s.Device("hub2")
	require.True(t, ok)
	assert.Equal(t, "garage", d.FuseGroup)
	assert.Equal(t, 20.0, d.MinSoc.Number())
	assert.Equal(t, 80.0, d.SocSet.Number())

	cfg.Distribution.OperatingMode = "turbo"
	_, err = NewDistributorFromConfig(&cfg, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}
