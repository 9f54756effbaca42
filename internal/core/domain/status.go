package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type DeviceStatus int

const (
	DeviceStatusCreated DeviceStatus = iota
	DeviceStatusOffline
	DeviceStatusNoBattery
	DeviceStatusNoFuseGroup
	DeviceStatusActive
	DeviceStatusCalibrate
	DeviceStatusHEMS
)

var deviceStatusNames = []string{"CREATED", "OFFLINE", "NOBATTERY", "NOFUSEGROUP", "ACTIVE", "CALIBRATE", "HEMS"}

func (s DeviceStatus) String() string {
	if s < 0 || int(s) >= len(deviceStatusNames) {
		return fmt.Sprintf("DeviceStatus(%d)", int(s))
	}
	return deviceStatusNames[s]
}

func DeviceStatusNames() []string {
	return append([]string(nil), deviceStatusNames...)
}

type OperatingMode int

const (
	OperatingModeOff OperatingMode = iota
	OperatingModeManual
	OperatingModeMatching
	OperatingModeMatchingDischarge
	OperatingModeMatchingCharge
)

var operatingModeNames = []string{"OFF", "MANUAL", "MATCHING", "MATCHING_DISCHARGE", "MATCHING_CHARGE"}

func (m OperatingMode) String() string {
	if m < 0 || int(m) >= len(operatingModeNames) {
		return fmt.Sprintf("OperatingMode(%d)", int(m))
	}
	return operatingModeNames[m]
}

func OperatingModeNames() []string {
	return append([]string(nil), operatingModeNames...)
}

// ParseOperatingMode accepts a mode number ("2"), a mode name ("matching")
// or a qualified name ("ManagerMode.MATCHING").
func ParseOperatingMode(value string) (OperatingMode, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || n >= len(operatingModeNames) {
			return OperatingModeOff, fmt.Errorf("%w: %d", ErrInvalidMode, n)
		}
		return OperatingMode(n), nil
	}
	if i := strings.LastIndex(value, "."); i >= 0 {
		value = value[i+1:]
	}
	for i, name := range operatingModeNames {
		if strings.EqualFold(name, value) {
			return OperatingMode(i), nil
		}
	}
	return OperatingModeOff, fmt.Errorf("%w: %q", ErrInvalidMode, value)
}

// Direction indexes PowerLimits: charge limits are negative, discharge limits positive.
type Direction int

const (
	DirectionCharge    Direction = 0
	DirectionDischarge Direction = 1
)

func (d Direction) String() string {
	if d == DirectionCharge {
		return "charge"
	}
	return "discharge"
}

// DirectionOf returns charge for negative setpoints.
func DirectionOf(setpoint int) Direction {
	if setpoint < 0 {
		return DirectionCharge
	}
	return DirectionDischarge
}

// PowerLimits holds [charge ceiling <= 0, discharge ceiling >= 0] in Watts.
type PowerLimits [2]int

// Tighter returns whichever of a and b has the smaller magnitude in dir.
func Tighter(dir Direction, a, b int) int {
	if dir == DirectionCharge {
		return max(a, b)
	}
	return min(a, b)
}

// Looser returns whichever of a and b has the larger magnitude in dir.
func Looser(dir Direction, a, b int) int {
	if dir == DirectionCharge {
		return min(a, b)
	}
	return max(a, b)
}

// Clamp bounds value into [charge, discharge].
func (l PowerLimits) Clamp(value int) int {
	return min(max(l[0], value), l[1])
}
