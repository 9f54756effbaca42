package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/config"
	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type HADiscoveryActor struct {
	config            *config.Config
	behavior          actor.Behavior
	stash             *actorutil.Stash
	mqttActor         *actor.PID
	distributionActor *actor.PID
	published         map[string]bool

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, distributionActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:            config,
		mqttActor:         mqttActor,
		distributionActor: distributionActor,
		behavior:          actor.NewBehavior(),
		stash:             &actorutil.Stash{},
		published:         map[string]bool{},
		logger:            actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 5*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		state.requestState(ctx)
		state.behavior.Become(state.WaitingStateReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingStateReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetDistributionStateResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@state: GetDistributionStateResponse", zap.Int("devices", len(msg.State.Devices)))

		req, ok := state.discoveryRequest(msg.State)
		if ok {
			ctx.Send(state.mqttActor, req)
		}
		state.behavior.Become(state.DoneReceive)
	default:
		state.logger.Debug("hadiscovery@state: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DoneReceive publishes discovery for devices registered after startup.
func (state *HADiscoveryActor) DoneReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DiscoverDevicesRequest:
		state.requestState(ctx)
		state.behavior.Become(state.WaitingStateReceive)
	default:
		state.logger.Debug("hadiscovery@done: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) requestState(ctx actor.Context) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.distributionActor, domain.GetDistributionStateRequest{}, 5*time.Second), func(err error) any {
		return domain.GetDistributionStateResponse{
			DistributionResponseMixIn: domain.DistributionResponseMixIn{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			},
		}
	})
}

// discoveryRequest builds the discovery messages not published yet. Bridge
// entities go out once; each hub goes out the first time it is seen.
func (state *HADiscoveryActor) discoveryRequest(distribution domain.DistributionState) (domain.PublishDiscoveryRequest, bool) {
	var sensors []domain.GenericSensor
	var selects []domain.GenericSelect
	var inputNumbers []domain.GenericInputNumber

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	if !state.published[bridgeDevice.Id] {
		state.published[bridgeDevice.Id] = true
		sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)
		selects = append(selects, domain.DistributionSelects(bridgeDevice)...)
		minPower, maxPower := state.manualPowerRange()
		inputNumbers = append(inputNumbers, domain.DistributionInputNumbers(bridgeDevice, minPower, maxPower)...)
	}

	productKeys := map[string]string{}
	for _, d := range state.config.Devices {
		productKeys[d.Id] = d.ProductKey
	}
	for _, d := range distribution.Devices {
		if state.published[d.Id] {
			continue
		}
		state.published[d.Id] = true
		hubDevice := domain.HubDevice(d.Id, d.Name, productKeys[d.Id])
		hubDevice.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, domain.HubSensors(hubDevice, d.Id)...)
	}

	if len(sensors) == 0 && len(selects) == 0 && len(inputNumbers) == 0 {
		return domain.PublishDiscoveryRequest{}, false
	}
	return domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Selects:      selects,
		InputNumbers: inputNumbers,
	}, true
}

// manualPowerRange spans the summed device limits of the configured fuse groups.
func (state *HADiscoveryActor) manualPowerRange() (float64, float64) {
	minPower, maxPower := 0, 0
	for _, g := range state.config.FuseGroups {
		minPower += g.MinPower
		maxPower += g.MaxPower
	}
	if minPower == 0 {
		minPower = domain.DEFAULT_CHARGE_LIMIT * max(1, len(state.config.Devices))
	}
	if maxPower == 0 {
		maxPower = domain.DEFAULT_DISCHARGE_LIMIT * max(1, len(state.config.Devices))
	}
	return float64(minPower), float64(maxPower)
}
