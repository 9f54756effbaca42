package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"

	COMMAND_SELECT = "select"
	COMMAND_NUMBER = "number"

	// hub acMode values
	AC_MODE_INPUT  = 1
	AC_MODE_OUTPUT = 2
)

var ErrNotACommand = errors.New("invalid command")

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("zendure2mqtt_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12]))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	// connection loss restarts the owning actor
	opts.SetAutoReconnect(false)
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:                   mqtt.NewClient(opts),
		cfg:                      cfg.MQTT,
		zendure:                  cfg.Zendure,
		meter:                    cfg.Meter,
		selectCommandRegexp:      selectCommandExtractor(cfg.MQTT.BaseTopic),
		inputNumberCommandRegexp: inputNumberCommandExtractor(cfg.MQTT.BaseTopic),
		reportRegexp:             reportTopicExtractor(cfg.Zendure.ReportTopicPrefix),
	}
}

type MQTTClient struct {
	client                   mqtt.Client
	cfg                      config.MQTTConfig
	zendure                  config.ZendureConfig
	meter                    config.MeterConfig
	selectCommandRegexp      *regexp.Regexp
	inputNumberCommandRegexp *regexp.Regexp
	reportRegexp             *regexp.Regexp
}

type ParsedMQTTCommand struct {
	EntityId string
	Command  string
	Payload  string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) DiscoveryPrefix() string {
	if c.cfg.HADiscoveryTopic == "" {
		return "homeassistant"
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) SelectStateTopic(id string) string {
	return fmt.Sprintf("%s/select/%s/state", c.baseTopic(), id)
}

func (c *MQTTClient) SelectCommandTopic(id string) string {
	return fmt.Sprintf("%s/select/%s/set", c.baseTopic(), id)
}

func (c *MQTTClient) InputNumberStateTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/state", c.baseTopic(), id)
}

func (c *MQTTClient) InputNumberCommandTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/set", c.baseTopic(), id)
}

// DeviceReportTopic is the subscription filter for hub telemetry.
func (c *MQTTClient) DeviceReportTopic() string {
	return fmt.Sprintf("%s/+/+/properties/report", c.zendure.ReportTopicPrefix)
}

func (c *MQTTClient) DeviceWriteTopic(productKey, deviceId string) string {
	return fmt.Sprintf("%s/%s/%s/properties/write", c.zendure.WriteTopicPrefix, productKey, deviceId)
}

func (c *MQTTClient) DeviceReadTopic(productKey, deviceId string) string {
	return fmt.Sprintf("%s/%s/%s/properties/read", c.zendure.WriteTopicPrefix, productKey, deviceId)
}

func (c *MQTTClient) MeterTopic() string {
	return c.meter.MQTTTopic
}

// ParseDeviceReportTopic extracts product key and device id from a report topic.
func (c *MQTTClient) ParseDeviceReportTopic(topic string) (string, string, bool) {
	matches := c.reportRegexp.FindStringSubmatch(topic)
	if len(matches) != 3 {
		return "", "", false
	}
	return matches[1], matches[2], true
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	selectCmd, err := c.parseSelectMQTTCommand(msg)
	if err == nil {
		return selectCmd, nil
	}
	inputNumberCmd, err := c.parseInputNumberMQTTCommand(msg)
	if err == nil {
		return inputNumberCmd, nil
	}
	return nil, err
}

func (c *MQTTClient) parseSelectMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	matches := c.selectCommandRegexp.FindAllStringSubmatch(msg.Topic(), 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return nil, ErrNotACommand
	}
	return &ParsedMQTTCommand{
		EntityId: matches[0][1],
		Command:  COMMAND_SELECT,
		Payload:  string(msg.Payload()),
	}, nil
}

func (c *MQTTClient) parseInputNumberMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	matches := c.inputNumberCommandRegexp.FindAllStringSubmatch(msg.Topic(), 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return nil, ErrNotACommand
	}

	// try to parse a valid number
	_, err := strconv.ParseFloat(string(msg.Payload()), 64)
	if err != nil {
		return nil, err
	}

	return &ParsedMQTTCommand{
		EntityId: matches[0][1],
		Command:  COMMAND_NUMBER,
		Payload:  string(msg.Payload()),
	}, nil
}

type writeProperties struct {
	ACMode      int `json:"acMode"`
	InputLimit  int `json:"inputLimit"`
	OutputLimit int `json:"outputLimit"`
}

type writeMessage struct {
	Properties writeProperties `json:"properties"`
}

// DeviceWritePayload encodes a power setpoint as a hub write message.
// Negative power charges through the input limit, positive power feeds the home.
func DeviceWritePayload(powerWatt int) ([]byte, error) {
	props := writeProperties{ACMode: AC_MODE_OUTPUT, OutputLimit: powerWatt}
	if powerWatt < 0 {
		props = writeProperties{ACMode: AC_MODE_INPUT, InputLimit: -powerWatt}
	}
	return json.Marshal(writeMessage{Properties: props})
}

// ReadAllPayload asks a hub for a full property report.
func ReadAllPayload() []byte {
	return []byte(`{"properties":["getAll"]}`)
}

// ParseMeterPayload reads a power value (W) from a plain number payload or,
// when field is set, from that field of a JSON object. Dots in field walk nested objects.
func ParseMeterPayload(payload []byte, field string, factor float64) (int, error) {
	if factor == 0 {
		factor = 1
	}
	text := strings.TrimSpace(string(payload))
	if field == "" {
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("meter payload %q: %w", text, err)
		}
		return int(value * factor), nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj any
	if err := dec.Decode(&obj); err != nil {
		return 0, fmt.Errorf("meter payload: %w", err)
	}
	for _, key := range strings.Split(field, ".") {
		m, ok := obj.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("meter payload: field %s not found", field)
		}
		if obj, ok = m[key]; !ok {
			return 0, fmt.Errorf("meter payload: field %s not found", field)
		}
	}
	var value float64
	switch v := obj.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("meter payload: %w", err)
		}
		value = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("meter payload: %w", err)
		}
		value = f
	default:
		return 0, fmt.Errorf("meter payload: field %s is %T", field, obj)
	}
	return int(value * factor), nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go waitToken(token, "publish", continuation, timeout)
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go waitToken(token, "subscribe", continuation, timeout)
}

// SubscribeMultiple subscribes all topics at qos with one handler.
func (c *MQTTClient) SubscribeMultiple(topics []string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = qos
	}
	token := c.client.SubscribeMultiple(filters, handler)
	go waitToken(token, "subscribe", continuation, timeout)
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.CommandTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go waitToken(token, "unsubscribe", continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go waitToken(token, "connect", continuation, timeout)
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func waitToken(token mqtt.Token, op string, continuation func(error), timeout time.Duration) {
	if !token.WaitTimeout(timeout) {
		continuation(fmt.Errorf("MQTT %s timed out", op))
		return
	}
	continuation(token.Error())
}

// CommandTopic is the subscription filter for select and number commands.
func (c *MQTTClient) CommandTopic() string {
	return fmt.Sprintf("%s/+/+/set", c.baseTopic())
}

func selectCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/select/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func inputNumberCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/number/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func reportTopicExtractor(prefix string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/([^/]+)/([^/]+)/properties/report$", regexp.QuoteMeta(prefix)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
