package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/config"
	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/core/events"
	"github.com/berfenger/zendure2mqtt/internal/core/service"
	"github.com/berfenger/zendure2mqtt/internal/metrics"
	. "github.com/berfenger/zendure2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	WATCHDOG_INTERVAL = 10 * time.Second
)

type DistributionActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	cancelTick  scheduler.CancelFunc
	stash       *Stash
	config      *config.Config
	distributor *service.Distributor
	mqttActor   *actor.PID
	eventStream *eventstream.EventStream
	metrics     *metrics.Metrics
	lastCycle   time.Time

	logger *zap.Logger
}

type distributionTick struct {
}

func NewDistributionActor(config *config.Config, mqttActor *actor.PID, eventStream *eventstream.EventStream, m *metrics.Metrics, logger *zap.Logger) *DistributionActor {
	act := &DistributionActor{
		config:      config,
		mqttActor:   mqttActor,
		stash:       &Stash{},
		eventStream: eventStream,
		metrics:     m,
		logger:      ActorLogger(domain.ACTOR_ID_DISTRIBUTION, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(DStartingState{
		actor: act,
	})
	return act
}

func (state *DistributionActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// NewDistributorFromConfig registers the configured fuse groups and devices.
func NewDistributorFromConfig(cfg *config.Config, logger *zap.Logger) (*service.Distributor, error) {
	settings := service.Settings{
		StartPower:     cfg.Distribution.StartPower,
		PowerTolerance: cfg.Distribution.PowerTolerance,
		AutoRegister:   cfg.Distribution.AutoRegister,
	}
	if settings.StartPower <= 0 {
		settings.StartPower = service.DEFAULT_START_POWER
	}
	policy := service.DefaultStatusPolicy{
		DeviceTimeout: time.Duration(cfg.Distribution.DeviceTimeoutSeconds) * time.Second,
	}
	s := service.NewDistributor(settings, policy, logger)

	for _, g := range cfg.FuseGroups {
		if err := s.AddFuseGroup(domain.NewFuseGroup(g.Name, g.MaxPower, g.MinPower)); err != nil {
			return nil, err
		}
	}
	for _, dc := range cfg.Devices {
		d := domain.NewDevice(dc.Id)
		d.ProductKey = dc.ProductKey
		if dc.Name != "" {
			d.Name = dc.Name
		}
		d.FuseGroup = dc.FuseGroup
		d.CapacityOverrideWh = dc.CapacityWh
		if dc.MaxSoc > 0 {
			d.MinSoc.Set(dc.MinSoc)
			d.SocSet.Set(dc.MaxSoc)
		}
		if err := s.AddDevice(d); err != nil {
			return nil, err
		}
	}

	mode := domain.OperatingModeOff
	if cfg.Distribution.OperatingMode != "" {
		parsed, err := domain.ParseOperatingMode(cfg.Distribution.OperatingMode)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}
	s.SetOperatingMode(mode)
	s.SetManualPower(cfg.Distribution.ManualPower)
	return s, nil
}

// Starting state

type DStartingState struct {
	ActorState
	actor *DistributionActor
}

func (state DStartingState) Name() string {
	return "starting"
}

func (state DStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("distribution@starting started")

		distributor, err := NewDistributorFromConfig(state.actor.config, state.actor.logger)
		if err != nil {
			state.actor.logger.Error("distribution@starting invalid distribution config", zap.Error(err))
			panic(err)
		}
		state.actor.distributor = distributor

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.scheduleTick(ctx)

		state.actor.publish(events.OperatingModeUpdateEvents(distributor.OperatingMode()))
		state.actor.publish(events.ManualPowerUpdateEvents(distributor.ManualPower()))

		state.actor.becomeForMode(ctx)
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("distribution@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state, distribution is switched off

type DIdleState struct {
	ActorState
	actor *DistributionActor
}

func (state DIdleState) Name() string {
	return "idle"
}

func (state DIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.MeterSampleRequest:
		state.actor.logger.Debug("distribution@idle MeterSample", zap.Int("power", msg.PowerWatt))
		state.actor.metrics.MeterSample(msg.PowerWatt)
		state.actor.metrics.MeterPhases(msg.PhasePowerWatt)
		state.actor.publishAll(events.MeterToUpdateEvents(msg.PowerWatt))
	default:
		state.actor.receiveCommon(ctx, state.Name())
	}
}

func (state DIdleState) OnEnter(ctx actor.Context) DIdleState {
	commands := state.actor.distributor.StopAll(time.Now())
	for _, c := range commands {
		state.actor.sendCommand(ctx, c)
	}
	state.actor.logger.Info("distribution@idle: distribution stopped", zap.Int("devices_stopped", len(commands)))
	return state
}

// Running state, every meter sample runs a control cycle

type DRunningState struct {
	ActorState
	actor *DistributionActor
}

func (state DRunningState) Name() string {
	return "running"
}

func (state DRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.MeterSampleRequest:
		state.actor.logger.Debug("distribution@running MeterSample", zap.Int("power", msg.PowerWatt))
		state.actor.metrics.MeterSample(msg.PowerWatt)
		state.actor.metrics.MeterPhases(msg.PhasePowerWatt)
		state.actor.publishAll(events.MeterToUpdateEvents(msg.PowerWatt))
		state.actor.cycle(ctx, msg)
	default:
		state.actor.receiveCommon(ctx, state.Name())
	}
}

// receiveCommon handles the messages both idle and running states accept.
func (state *DistributionActor) receiveCommon(ctx actor.Context, stateName string) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug(fmt.Sprintf("distribution@%s: ActorHealthRequest", stateName))
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DISTRIBUTION,
			Healthy: true,
			State:   state.StateName(),
		})
	case domain.DeviceReportRequest:
		known := len(state.distributor.Devices())
		err := state.distributor.ApplyReport(msg.ProductKey, msg.Report, msg.Time)
		if err != nil {
			state.logger.Warn(fmt.Sprintf("distribution@%s: report dropped", stateName), zap.String("device", msg.Report.DeviceId), zap.Error(err))
			state.metrics.ReportDropped()
		}
		if len(state.distributor.Devices()) > known && ctx.Parent() != nil {
			ctx.Send(ctx.Parent(), domain.DiscoverDevicesRequest{})
		}
	case distributionTick:
		state.watchdog(time.Now())
		state.scheduleTick(ctx)
	case domain.SetOperatingModeRequest:
		previous := state.distributor.OperatingMode()
		state.logger.Info(fmt.Sprintf("distribution@%s: set operating mode", stateName), zap.Stringer("from", previous), zap.Stringer("to", msg.Mode))
		state.distributor.SetOperatingMode(msg.Mode)
		state.publish(events.OperatingModeUpdateEvents(msg.Mode))
		if (previous == domain.OperatingModeOff) != (msg.Mode == domain.OperatingModeOff) {
			state.becomeForMode(ctx)
		}
		ForRequest(msg).Respond(ctx, domain.SetOperatingModeResponse{
			Mode:    msg.Mode,
			Changed: previous != msg.Mode,
		})
	case domain.SetManualPowerRequest:
		state.logger.Info(fmt.Sprintf("distribution@%s: set manual power", stateName), zap.Int("power", msg.PowerWatt))
		state.distributor.SetManualPower(msg.PowerWatt)
		state.publish(events.ManualPowerUpdateEvents(msg.PowerWatt))
		ForRequest(msg).Respond(ctx, domain.SetManualPowerResponse{
			PowerWatt: msg.PowerWatt,
		})
	case domain.SetHEMSRequest:
		state.logger.Info(fmt.Sprintf("distribution@%s: set hems", stateName), zap.String("device", msg.DeviceId), zap.Bool("enabled", msg.Enabled))
		ForRequest(msg).Respond(ctx, state.setHEMS(msg))
	case domain.GetDistributionStateRequest:
		ForRequest(msg).Respond(ctx, domain.GetDistributionStateResponse{
			State: state.distributor.Snapshot(),
		})
	case domain.DeviceCommandResponse:
		if msg.HasResponseError() {
			state.logger.Error(fmt.Sprintf("distribution@%s: device command failed", stateName), zap.Error(msg.GetResponseError()))
		}
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug(fmt.Sprintf("distribution@%s: recv", stateName), zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DistributionActor) setHEMS(msg domain.SetHEMSRequest) domain.SetHEMSResponse {
	resp := domain.SetHEMSResponse{DeviceId: msg.DeviceId}
	d, ok := state.distributor.Device(msg.DeviceId)
	if !ok {
		resp.ResponseError = fmt.Errorf("%w: %s", domain.ErrUnknownDevice, msg.DeviceId)
		return resp
	}
	if msg.Enabled {
		if err := state.distributor.SetStatusOverride(d.Id, domain.DeviceStatusHEMS); err != nil {
			resp.ResponseError = err
			return resp
		}
	} else {
		state.distributor.ClearStatusOverride(d.Id)
	}
	state.distributor.EvaluateStatus(time.Now())
	resp.Status = d.Status
	return resp
}

func (state *DistributionActor) becomeForMode(ctx actor.Context) {
	if state.distributor.OperatingMode() == domain.OperatingModeOff {
		state.Become(DIdleState{
			actor: state,
		}.OnEnter(ctx))
	} else {
		state.Become(DRunningState{
			actor: state,
		})
	}
}

// cycle runs one control cycle unless the previous one is younger than meter.min_update_millis.
func (state *DistributionActor) cycle(ctx actor.Context, sample domain.MeterSampleRequest) {
	now := sample.Time
	if now.IsZero() {
		now = time.Now()
	}
	minInterval := time.Duration(state.config.Meter.MinUpdateMillis) * time.Millisecond
	if minInterval > 0 && !state.lastCycle.IsZero() && now.Sub(state.lastCycle) < minInterval {
		state.metrics.Throttled()
		return
	}
	state.lastCycle = now

	state.distributor.EvaluateStatus(now)
	result := state.distributor.Update(sample.PowerWatt, now)
	state.metrics.Cycle(result)

	for _, c := range result.Changed() {
		state.sendCommand(ctx, c)
	}

	state.publishAll(events.CycleToUpdateEvents(result))
	for _, c := range result.Commands {
		if d, ok := state.distributor.Device(c.DeviceId); ok {
			state.publishAll(events.DeviceToUpdateEvents(d.Snapshot(now)))
		}
	}
}

func (state *DistributionActor) sendCommand(ctx actor.Context, c domain.DeviceCommand) {
	state.logger.Debug("distribution: device command", zap.String("device", c.DeviceId), zap.Int("power", c.PowerSetpoint))
	if state.mqttActor == nil {
		return
	}
	ctx.Request(state.mqttActor, domain.DeviceCommandRequest{
		DeviceId:   c.DeviceId,
		ProductKey: c.ProductKey,
		PowerWatt:  c.PowerSetpoint,
	})
}

// watchdog refreshes device status, detaches stale packs and republishes device state.
func (state *DistributionActor) watchdog(now time.Time) {
	state.distributor.EvaluateStatus(now)
	if timeout := state.config.Distribution.PackTimeoutSeconds; timeout > 0 {
		state.distributor.PrunePacks(now, time.Duration(timeout)*time.Second)
	}
	snapshot := state.distributor.Snapshot()
	state.metrics.Devices(snapshot.Devices)
	state.publishAll(events.StateToUpdateEvents(snapshot))
}

func (state *DistributionActor) scheduleTick(ctx actor.Context) {
	state.cancelTick = state.scheduler.RequestOnce(WATCHDOG_INTERVAL, ctx.Self(), distributionTick{})
}

func (state *DistributionActor) publish(ev any) {
	if state.eventStream != nil {
		state.eventStream.Publish(ev)
	}
}

func (state *DistributionActor) publishAll(evs []any) {
	for _, ev := range evs {
		state.publish(ev)
	}
}

func (state *DistributionActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}
