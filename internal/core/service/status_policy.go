package service

import (
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/core/port"
)

const SOC_STATUS_CALIBRATING = 1

// DefaultStatusPolicy derives the status from telemetry freshness, attached
// packs, fuse group membership and the hub calibration flag.
type DefaultStatusPolicy struct {
	DeviceTimeout time.Duration
}

func (p DefaultStatusPolicy) Evaluate(d *domain.Device, group *domain.FuseGroup, now time.Time) domain.DeviceStatus {
	switch {
	case d.LastReport.IsZero():
		return domain.DeviceStatusCreated
	case p.DeviceTimeout > 0 && now.Sub(d.LastReport) > p.DeviceTimeout:
		return domain.DeviceStatusOffline
	case d.CapacityWh <= 0:
		return domain.DeviceStatusNoBattery
	case group == nil:
		return domain.DeviceStatusNoFuseGroup
	case d.SocStatus.Int() == SOC_STATUS_CALIBRATING:
		return domain.DeviceStatusCalibrate
	default:
		return domain.DeviceStatusActive
	}
}

// ActiveStatusPolicy keeps every device with a fuse group active. Used for log replay.
type ActiveStatusPolicy struct{}

func (ActiveStatusPolicy) Evaluate(d *domain.Device, group *domain.FuseGroup, now time.Time) domain.DeviceStatus {
	if group == nil {
		return domain.DeviceStatusNoFuseGroup
	}
	return domain.DeviceStatusActive
}

// ensure interface compliance
var _ port.DeviceStatusPolicy = DefaultStatusPolicy{}
var _ port.DeviceStatusPolicy = ActiveStatusPolicy{}
