package actor

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/config"
	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	. "github.com/berfenger/zendure2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// MeterActor polls the Modbus grid meter and feeds samples to the distribution actor.
type MeterActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	modbusActor       *actor.PID
	distributionActor *actor.PID
	config            *config.Config
	meterInfo         *domain.GetDevicesInfoResponse
	lastSample        time.Time
	failures          int

	logger *zap.Logger
}

type meterTick struct {
}

func NewMeterActor(config *config.Config, modbusActor *actor.PID, distributionActor *actor.PID, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		config:            config,
		modbusActor:       modbusActor,
		distributionActor: distributionActor,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) pollInterval() time.Duration {
	return time.Duration(state.config.MeterModbusTcp.PollIntervalMillis) * time.Millisecond
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")

		if state.pollInterval() > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), meterTick{})
		}

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.GetDevicesInfoRequest{}, 3*time.Second), func(err error) any {
			return domain.GetDevicesInfoResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingInfoReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("meter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default: ActorHealthRequest")
		// a meter that stopped answering for several polls is not healthy
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: state.failures < 3,
			State:   "polling",
		})
	case domain.GetDevicesInfoRequest:
		if state.meterInfo != nil {
			ForRequest(msg).Respond(ctx, *state.meterInfo)
		} else {
			ForRequest(msg).Respond(ctx, domain.GetDevicesInfoResponse{})
		}
	case meterTick:
		state.logger.Debug("meter@default tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.GetPowerFlowRequest{}, state.requestTimeout()), func(err error) any {
			return domain.GetPowerFlowResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})

		// schedule next tick
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), meterTick{})
		state.behavior.BecomeStacked(state.WaitingPFReceive)
	default:
		state.logger.Debug("meter@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingPFReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetPowerFlowResponse:
		if msg.HasResponseError() || msg.ACMeter == nil {
			state.failures++
			state.logger.Error("meter@waiting GetPowerFlowResponse error", zap.Error(msg.GetResponseError()), zap.Int("failures", state.failures))
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
			return
		}
		state.failures = 0
		power := int(math.Round(msg.ACMeter.CurrentPowerFlowWatt * state.factor()))
		state.logger.Debug("meter@waiting GetPowerFlowResponse", zap.Int("power", power))
		phases := make([]int, len(msg.ACMeter.PhasePowerWatt))
		for i, p := range msg.ACMeter.PhasePowerWatt {
			phases[i] = int(math.Round(p * state.factor()))
		}
		state.lastSample = time.Now()
		ctx.Send(state.distributionActor, domain.MeterSampleRequest{
			PowerWatt:      power,
			PhasePowerWatt: phases,
			Time:           state.lastSample,
		})

		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("meter@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetDevicesInfoResponse:
		if msg.HasResponseError() || msg.ACMeter == nil {
			state.logger.Error("meter@waitingInfo GetDevicesInfoResponse", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Info("meter@waitingInfo grid meter found", zap.String("manufacturer", msg.ACMeter.Manufacturer),
				zap.String("model", msg.ACMeter.Model), zap.String("serial", msg.ACMeter.Serial))
			state.meterInfo = &msg
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("meter@waitingInfo: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) factor() float64 {
	if state.config.Meter.Factor == 0 {
		return 1
	}
	return state.config.Meter.Factor
}

// requestTimeout keeps one poll from overlapping the next.
func (state *MeterActor) requestTimeout() time.Duration {
	return min(3*time.Second, max(state.pollInterval(), 500*time.Millisecond))
}
