package actor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/config"
	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/mqtt"
	"github.com/berfenger/zendure2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	recorder       *MQTTRecorder
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo  *actor.PID
	Response func(error) any
	Error    error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type OnEventStreamMessage struct {
	message any
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")
		root, self := ctx.ActorSystem().Root, ctx.Self()

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil,
			func(_ pahomqtt.Client, err error) {
				root.Send(self, MQTTConnectionLost{Error: err})
			})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")
		root, self := ctx.ActorSystem().Root, ctx.Self()

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to bridge commands, hub reports and, if configured, the grid meter
		state.client.SubscribeMultiple(state.subscriptionTopics(), 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
			if msg := state.parseIncoming(m); msg != nil {
				root.Send(self, msg)
			}
		}, func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTSubscribed{})
			}
		}, 2*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.requestFullReports()
		state.subscribeEventStream(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "connected",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default ParsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case domain.DeviceReportRequest:
		ctx.Send(ctx.Parent(), msg)
	case domain.MeterSampleRequest:
		ctx.Send(ctx.Parent(), msg)
	case domain.DeviceCommandRequest:
		state.logger.Debug("mqtt@default DeviceCommandRequest", zap.String("device", msg.DeviceId), zap.Int("power", msg.PowerWatt))
		state.publishDeviceCommand(ctx, msg)
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.Any("message", msg))
		state.publish(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx), func(err error) any {
			return domain.PublishMessageResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		})
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.publishSensorValue(ctx, msg.Event, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case OnEventStreamMessage:
		if event, ok := msg.message.(domain.SensorUpdateEvent); ok {
			state.publishSensorValue(ctx, event, false, nil)
		}
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishDiscoveryRequest")
		err := state.PublishHomeAssistantDiscovery(msg.Sensors, msg.Selects, msg.InputNumbers)
		if err != nil {
			state.logger.Error("mqtt@default PublishDiscoveryRequest error", zap.Error(err))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishDiscoveryResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		})
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) subscriptionTopics() []string {
	topics := []string{state.client.CommandTopic(), state.client.DeviceReportTopic()}
	if state.config.Meter.Source == config.METER_SOURCE_MQTT && state.client.MeterTopic() != "" {
		topics = append(topics, state.client.MeterTopic())
	}
	return topics
}

// parseIncoming turns a received MQTT message into an actor message, or nil.
func (state *MQTTActor) parseIncoming(m pahomqtt.Message) any {
	now := time.Now()
	topic := m.Topic()

	if state.config.Meter.Source == config.METER_SOURCE_MQTT && topic == state.client.MeterTopic() {
		power, err := mqtt.ParseMeterPayload(m.Payload(), state.config.Meter.MQTTJSONField, state.config.Meter.Factor)
		if err != nil {
			state.logger.Warn("mqtt: invalid meter payload", zap.Error(err))
			return nil
		}
		return domain.MeterSampleRequest{PowerWatt: power, Time: now}
	}

	if productKey, deviceId, ok := state.client.ParseDeviceReportTopic(topic); ok {
		report, err := domain.ParseDeviceReport(m.Payload())
		if err != nil {
			state.logger.Warn("mqtt: invalid device report", zap.String("device", deviceId), zap.Error(err))
			return nil
		}
		if report.DeviceId == "" {
			report.DeviceId = deviceId
		}
		return domain.DeviceReportRequest{ProductKey: productKey, Report: *report, Time: now}
	}

	cmd, err := state.client.ParseMQTTCommand(m)
	if err == nil && cmd != nil {
		return ParsedCommand{Command: cmd}
	}
	return nil
}

func (state *MQTTActor) requestFullReports() {
	for _, d := range state.config.Devices {
		if d.ProductKey == "" {
			continue
		}
		state.client.Publish(state.client.DeviceReadTopic(d.ProductKey, d.Id), mqtt.ReadAllPayload(), 0, false, func(error) {}, 1*time.Second)
	}
}

func (state *MQTTActor) subscribeEventStream(ctx actor.Context) {
	if state.eventStream == nil || state.eventStreamSub != nil {
		return
	}
	root, self := ctx.ActorSystem().Root, ctx.Self()
	state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
		root.Send(self, OnEventStreamMessage{message: value})
	})
}

func (state *MQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.SelectUpdateEvent:
		return &rawMessage{
			topic:   state.client.SelectStateTopic(msg.Id),
			message: msg.Value,
			retain:  true,
		}
	case domain.InputNumberSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.InputNumberStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
			retain:  true,
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		stringMessage := mqtt.MQTT_PAYLOAD_OFFLINE
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
			retain:  true,
		}
	default:
		return nil
	}
}

func (state *MQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool, replyTo *actor.PID) {
	msg := state.event2MQTTMessage(event)
	if msg == nil {
		return
	}
	state.publish(ctx, msg.topic, msg.message, msg.retain || retain, replyTo, func(err error) any {
		return domain.PublishSensorUpdateResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
	})
}

func (state *MQTTActor) publishDeviceCommand(ctx actor.Context, msg domain.DeviceCommandRequest) {
	payload, err := mqtt.DeviceWritePayload(msg.PowerWatt)
	if err != nil {
		state.logger.Error("mqtt@default could not encode device command", zap.Error(err))
		return
	}
	state.publish(ctx, state.client.DeviceWriteTopic(msg.ProductKey, msg.DeviceId), string(payload), false,
		actorutil.ForRequest(msg).ReplyTo(ctx), func(err error) any {
			return domain.DeviceCommandResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err}}
		})
}

// publish sends one message and waits for the broker acknowledgement in a stacked state.
func (state *MQTTActor) publish(ctx actor.Context, topic string, payload string, retain bool, replyTo *actor.PID, response func(error) any) {
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", topic, payload)
	root, self := ctx.ActorSystem().Root, ctx.Self()
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		root.Send(self, publishResult{ReplyTo: replyTo, Response: response, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.PublishResultReceive)
}

func (state *MQTTActor) PublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil && msg.Response != nil {
			ctx.Send(msg.ReplyTo, msg.Response(msg.Error))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	case MQTTConnectionLost:
		state.logger.Error("mqtt@publishing connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor,
	selects []domain.GenericSelect, inputNumbers []domain.GenericInputNumber) error {
	publish := func(topic string, msg mqtt.HADiscoveryConfig) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
		return nil
	}
	for i := range sensors {
		if err := publish(state.client.HADiscoverySensorTopic(sensors[i]), mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])); err != nil {
			return err
		}
	}
	for i := range selects {
		if err := publish(state.client.HADiscoverySelectTopic(selects[i]), mqtt.GenericSelectToHADiscoveryMessage(state.client, selects[i])); err != nil {
			return err
		}
	}
	for i := range inputNumbers {
		if err := publish(state.client.HADiscoveryInputNumberTopic(inputNumbers[i]), mqtt.GenericInputNumberToHADiscoveryMessage(state.client, inputNumbers[i])); err != nil {
			return err
		}
	}
	return nil
}

func (state *MQTTActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.logger.Debug("mqtt: disconnect")
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

// MQTTRecorder collects what a test MQTT actor would have published.
type MQTTRecorder struct {
	mu       sync.Mutex
	commands []domain.DeviceCommandRequest
	events   []domain.SensorUpdateEvent
}

func (r *MQTTRecorder) Commands() []domain.DeviceCommandRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DeviceCommandRequest(nil), r.commands...)
}

func (r *MQTTRecorder) Events() []domain.SensorUpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SensorUpdateEvent(nil), r.events...)
}

func (r *MQTTRecorder) addCommand(cmd domain.DeviceCommandRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *MQTTRecorder) addEvent(event domain.SensorUpdateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Dummy actor
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, recorder *MQTTRecorder, logger *zap.Logger) *MQTTActor {
	if recorder == nil {
		recorder = &MQTTRecorder{}
	}
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		recorder:    recorder,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		state.subscribeEventStream(ctx)
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case OnEventStreamMessage:
		if event, ok := msg.message.(domain.SensorUpdateEvent); ok && state.event2MQTTMessage(event) != nil {
			state.recorder.addEvent(event)
		}
	case domain.DeviceCommandRequest:
		state.recorder.addCommand(msg)
		actorutil.ForRequest(msg).Respond(ctx, domain.DeviceCommandResponse{})
	case domain.PublishSensorUpdateRequest:
		state.recorder.addEvent(msg.Event)
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishSensorUpdateResponse{})
	case domain.PublishMessageRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
	case domain.PublishDiscoveryRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishDiscoveryResponse{})
	case ParsedCommand, domain.DeviceReportRequest, domain.MeterSampleRequest:
		ctx.Send(ctx.Parent(), msg)
	}
}
