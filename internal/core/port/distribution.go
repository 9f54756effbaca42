package port

import (
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
)

// DeviceStatusPolicy decides the status of a device before each control cycle.
// group is nil when the device names a fuse group that does not exist.
type DeviceStatusPolicy interface {
	Evaluate(d *domain.Device, group *domain.FuseGroup, now time.Time) domain.DeviceStatus
}

type PowerDistributor interface {
	AddDevice(d *domain.Device) error
	AddFuseGroup(g *domain.FuseGroup) error
	Device(id string) (*domain.Device, bool)
	Devices() []*domain.Device
	ApplyReport(productKey string, report domain.DeviceReport, now time.Time) error
	EvaluateStatus(now time.Time)
	Update(meter int, now time.Time) domain.CycleResult
	SetOperatingMode(mode domain.OperatingMode)
	OperatingMode() domain.OperatingMode
	SetManualPower(power int)
	PrunePacks(now time.Time, maxAge time.Duration) int
	StopAll(now time.Time) []domain.DeviceCommand
	Snapshot() domain.DistributionState
}
