package domain

import "fmt"

// DistributionRequest is a command routed to the distribution actor.
type DistributionRequest interface {
	ActorRequest
	DistributionCommand() string
}

type DistributionRequestMixIn struct {
	ActorRequestMixIn
}

func (r DistributionRequestMixIn) DistributionCommand() string {
	return fmt.Sprintf("%T", r)
}

type DistributionResponse interface {
	ActorResponse
	DistributionResponse() string
}

type DistributionResponseMixIn struct {
	ActorResponseMixIn
}

func (r DistributionResponseMixIn) DistributionResponse() string {
	return fmt.Sprintf("%T", r)
}

type SetOperatingModeRequest struct {
	DistributionRequestMixIn
	Mode OperatingMode
}

type SetOperatingModeResponse struct {
	DistributionResponseMixIn
	Mode    OperatingMode
	Changed bool
}

type SetManualPowerRequest struct {
	DistributionRequestMixIn
	PowerWatt int
}

type SetManualPowerResponse struct {
	DistributionResponseMixIn
	PowerWatt int
}

type GetDistributionStateRequest struct {
	DistributionRequestMixIn
}

type GetDistributionStateResponse struct {
	DistributionResponseMixIn
	State DistributionState
}

// SetHEMSRequest hands a device to an external home energy manager, which
// keeps it out of allocation, or returns it to the status policy.
type SetHEMSRequest struct {
	DistributionRequestMixIn
	DeviceId string
	Enabled  bool
}

type SetHEMSResponse struct {
	DistributionResponseMixIn
	DeviceId string
	Status   DeviceStatus
}

// ensure interface compliance
var _ DistributionRequest = (*SetOperatingModeRequest)(nil)
var _ DistributionRequest = (*SetManualPowerRequest)(nil)
var _ DistributionRequest = (*GetDistributionStateRequest)(nil)
var _ DistributionRequest = (*SetHEMSRequest)(nil)
var _ DistributionResponse = (*SetOperatingModeResponse)(nil)
