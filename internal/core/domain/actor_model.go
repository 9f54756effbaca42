package domain

import (
	"time"

	"github.com/berfenger/zendure2mqtt/pkg/sunspec_modbus"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MODBUS       = "modbus"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_DISTRIBUTION = "distribution"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetDevicesInfoRequest struct {
	ActorRequestMixIn
}

type GetDevicesInfoResponse struct {
	ActorResponseMixIn
	ACMeter *sunspec_modbus.ACMeterInfo
}

type GetPowerFlowRequest struct {
	ActorRequestMixIn
}

type GetPowerFlowResponse struct {
	ActorResponseMixIn
	ACMeter *sunspec_modbus.ACMeterPowerFlow
}

// DeviceReportRequest carries one telemetry report from a hub.
type DeviceReportRequest struct {
	ActorRequestMixIn
	ProductKey string
	Report     DeviceReport
	Time       time.Time
}

// MeterSampleRequest carries a grid meter reading, positive when importing.
// PhasePowerWatt is set by meters that read per phase power.
type MeterSampleRequest struct {
	ActorRequestMixIn
	PowerWatt      int
	PhasePowerWatt []int
	Time           time.Time
}

// DeviceCommandRequest asks the transport to write a power setpoint to a hub.
type DeviceCommandRequest struct {
	ActorRequestMixIn
	DeviceId   string
	ProductKey string
	PowerWatt  int
}

type DeviceCommandResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Selects      []GenericSelect
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// DiscoverDevicesRequest asks HA discovery to publish devices registered at runtime.
type DiscoverDevicesRequest struct {
	ActorRequestMixIn
}
