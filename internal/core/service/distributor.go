package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/core/port"

	"go.uber.org/zap"
)

const (
	DEFAULT_START_POWER     = 50
	DEFAULT_POWER_TOLERANCE = 5
	// setpoint jumps above POWER_JUMP reset the history, above POWER_JUMP_HIGH they are damped
	POWER_JUMP        = 100
	POWER_JUMP_HIGH   = 250
	HIGH_JUMP_DAMPING = 0.75
	// guaranteed proportional share of every device in the allocation set
	FIXED_SHARE = 0.1
	// fraction of a device limit reserved from the start budget
	START_RESERVE = 0.55
	// minimum setpoint to capacity ratio to keep a running device
	MIN_EFFICIENCY = 0.15
	HISTORY_SIZE   = 4
)

type Settings struct {
	StartPower     int
	PowerTolerance int
	// AutoRegister adds devices on their first report.
	AutoRegister bool
}

func DefaultSettings() Settings {
	return Settings{
		StartPower:     DEFAULT_START_POWER,
		PowerTolerance: DEFAULT_POWER_TOLERANCE,
	}
}

// Distributor splits the grid meter setpoint across battery devices. It is
// not safe for concurrent use; callers serialise reports and cycles.
type Distributor struct {
	Settings Settings
	Policy   port.DeviceStatusPolicy
	Logger   *zap.Logger

	devices     []*domain.Device
	byId        map[string]*domain.Device
	groups      map[string]*domain.FuseGroup
	overrides   map[string]domain.DeviceStatus
	history     []int
	mode        domain.OperatingMode
	manualPower int
	last        domain.CycleResult
}

func NewDistributor(settings Settings, policy port.DeviceStatusPolicy, logger *zap.Logger) *Distributor {
	if policy == nil {
		policy = DefaultStatusPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{
		Settings:  settings,
		Policy:    policy,
		Logger:    logger,
		byId:      map[string]*domain.Device{},
		groups:    map[string]*domain.FuseGroup{},
		overrides: map[string]domain.DeviceStatus{},
		history:   []int{0},
		mode:      domain.OperatingModeOff,
	}
}

func (s *Distributor) AddFuseGroup(g *domain.FuseGroup) error {
	if _, ok := s.groups[g.Name]; ok {
		return fmt.Errorf("fuse group %s already registered", g.Name)
	}
	s.groups[g.Name] = g
	for _, d := range s.devices {
		if d.FuseGroup == g.Name {
			g.Add(d)
		}
	}
	return nil
}

// AddDevice registers d. Devices without a fuse group get a singleton group.
func (s *Distributor) AddDevice(d *domain.Device) error {
	if _, ok := s.byId[d.Id]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateDevice, d.Id)
	}
	if d.FuseGroup == "" {
		g := domain.NewSingletonFuseGroup(d.Id)
		if err := s.AddFuseGroup(g); err != nil {
			return err
		}
		g.Add(d)
	} else if g, ok := s.groups[d.FuseGroup]; ok {
		g.Add(d)
	} else {
		s.Logger.Warn("distribution: device references unknown fuse group",
			zap.String("device", d.Id), zap.String("fuse_group", d.FuseGroup))
	}
	s.devices = append(s.devices, d)
	s.byId[d.Id] = d
	return nil
}

func (s *Distributor) Device(id string) (*domain.Device, bool) {
	d, ok := s.byId[id]
	return d, ok
}

func (s *Distributor) Devices() []*domain.Device {
	return append([]*domain.Device(nil), s.devices...)
}

func (s *Distributor) FuseGroup(name string) (*domain.FuseGroup, bool) {
	g, ok := s.groups[name]
	return g, ok
}

// ApplyReport routes a telemetry report to its device. Field errors are
// logged and do not prevent the rest of the report from being applied.
func (s *Distributor) ApplyReport(productKey string, report domain.DeviceReport, now time.Time) error {
	d, ok := s.byId[report.DeviceId]
	if !ok {
		if !s.Settings.AutoRegister || report.DeviceId == "" {
			return fmt.Errorf("%w: %s", domain.ErrUnknownDevice, report.DeviceId)
		}
		d = domain.NewDevice(report.DeviceId)
		d.ProductKey = productKey
		if err := s.AddDevice(d); err != nil {
			return err
		}
		s.Logger.Info("distribution: registered device", zap.String("device", d.Id), zap.String("product_key", productKey))
	}
	if err := d.ApplyReport(report, now); err != nil {
		s.Logger.Debug("distribution: telemetry fields dropped", zap.String("device", d.Id), zap.Error(err))
	}
	return nil
}

func (s *Distributor) SetStatusOverride(id string, status domain.DeviceStatus) error {
	if _, ok := s.byId[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownDevice, id)
	}
	s.overrides[id] = status
	return nil
}

func (s *Distributor) ClearStatusOverride(id string) {
	delete(s.overrides, id)
}

// EvaluateStatus applies the status policy to every device.
func (s *Distributor) EvaluateStatus(now time.Time) {
	for _, d := range s.devices {
		status, ok := s.overrides[d.Id]
		if !ok {
			status = s.Policy.Evaluate(d, s.groups[d.FuseGroup], now)
		}
		if status != d.Status {
			s.Logger.Info("distribution: device status changed", zap.String("device", d.Id),
				zap.Stringer("from", d.Status), zap.Stringer("to", status))
			d.Status = status
		}
	}
}

func (s *Distributor) PrunePacks(now time.Time, maxAge time.Duration) int {
	n := 0
	for _, d := range s.devices {
		removed := d.PrunePacks(now, maxAge)
		if len(removed) > 0 {
			s.Logger.Info("distribution: detached stale packs", zap.String("device", d.Id), zap.Strings("packs", removed))
		}
		n += len(removed)
	}
	return n
}

func (s *Distributor) SetOperatingMode(mode domain.OperatingMode) {
	s.mode = mode
}

func (s *Distributor) OperatingMode() domain.OperatingMode {
	return s.mode
}

func (s *Distributor) SetManualPower(power int) {
	s.manualPower = power
}

func (s *Distributor) ManualPower() int {
	return s.manualPower
}

// Update runs one control cycle for a meter reading (W, positive = import).
func (s *Distributor) Update(meter int, now time.Time) domain.CycleResult {
	result := domain.CycleResult{Time: now, Meter: meter, Mode: s.mode}

	setpoint, solar := s.aggregate(meter)
	solarOnly := solar > setpoint
	setpoint = s.smooth(setpoint, solarOnly)

	switch s.mode {
	case domain.OperatingModeMatchingDischarge:
		setpoint = max(setpoint, 0)
	case domain.OperatingModeMatchingCharge:
		setpoint = min(setpoint, 0)
	case domain.OperatingModeManual:
		setpoint = s.manualPower
	case domain.OperatingModeOff:
		result.Skipped = true
		s.last = result
		return result
	}

	result.Setpoint = setpoint
	result.Solar = solar
	result.SolarOnly = solarOnly

	if solarOnly {
		s.distributeSolar(setpoint, now, &result)
	} else {
		s.distribute(setpoint, domain.DirectionOf(setpoint), now, &result)
	}

	s.Logger.Debug("distribution: cycle", zap.Int("meter", meter), zap.Int("setpoint", setpoint),
		zap.Int("solar", solar), zap.Bool("solar_only", solarOnly), zap.Stringer("mode", s.mode),
		zap.Int("commands", len(result.Commands)))
	s.last = result
	return result
}

// aggregate sums home and solar power of active devices into the raw setpoint
// and opens a new fuse group cycle.
func (s *Distributor) aggregate(meter int) (int, int) {
	setpoint := meter
	solar := 0
	for _, d := range s.devices {
		g := s.activeGroup(d)
		if g == nil {
			continue
		}
		g.BeginCycle()
		setpoint += d.HomePower.Int()
		solar += d.SolarPower.Int()
		offGrid := d.OffGridPower.Int()
		if offGrid < 0 {
			solar += offGrid
		} else {
			setpoint += offGrid
		}
		d.PowerOffset = min(0, offGrid)
	}
	return setpoint, solar
}

func (s *Distributor) smooth(setpoint int, solarOnly bool) int {
	avg := 0
	if len(s.history) > 0 {
		sum := 0
		for _, v := range s.history {
			sum += v
		}
		avg = sum / len(s.history)
	}

	delta := abs(avg - setpoint)
	if delta > POWER_JUMP {
		s.history = s.history[:0]
		// never jump across zero in one step
		if setpoint*avg < 0 {
			setpoint = 0
		}
	}
	s.history = append(s.history, setpoint)
	if len(s.history) > HISTORY_SIZE {
		s.history = s.history[len(s.history)-HISTORY_SIZE:]
	}

	if !solarOnly && delta > POWER_JUMP_HIGH {
		return int(HIGH_JUMP_DAMPING * float64(setpoint))
	}
	return floorDiv(setpoint+2*avg, 3)
}

// distributeSolar lets each device pass through at most its own solar input.
func (s *Distributor) distributeSolar(setpoint int, now time.Time, result *domain.CycleResult) {
	devices := s.sortedActive(domain.DirectionDischarge, false)
	for _, d := range devices {
		setpoint -= s.command(d, min(setpoint, d.SolarPower.Int()), now, result)
	}
}

func (s *Distributor) distribute(setpoint int, dir domain.Direction, now time.Time, result *domain.CycleResult) {
	var used []*domain.Device
	totalPower := 0
	totalWeight := 0.0
	start := setpoint
	startPower := s.Settings.StartPower
	if dir == domain.DirectionCharge {
		startPower = -startPower
	}

	for _, d := range s.sortedActive(dir, dir == domain.DirectionDischarge) {
		weight := d.Weight(dir)
		if d.Idle() {
			power := 0
			if weight > 0 && start != 0 {
				power = startPower
			}
			start = domain.Looser(dir, 0, int(float64(start)-float64(d.Limits[dir])*START_RESERVE))
			s.command(d, power, now, result)
			continue
		}

		capacity := totalPower + d.Limits[dir]
		if len(used) == 0 || (capacity != 0 && float64(setpoint)/float64(capacity) >= MIN_EFFICIENCY) {
			used = append(used, d)
			totalPower += s.groups[d.FuseGroup].DeviceLimit(d, dir)
			totalWeight += weight
			start = domain.Looser(dir, 0, int(float64(start)-float64(d.Limits[dir])*START_RESERVE))
		} else {
			s.command(d, 0, now, result)
		}
	}

	if totalPower == 0 || totalWeight == 0 {
		return
	}

	fixed := math.Min(FIXED_SHARE, math.Abs(float64(setpoint)/float64(totalPower)))
	for _, d := range used {
		flexible := 0.0
		if fixed >= FIXED_SHARE {
			flexible = float64(setpoint) - FIXED_SHARE*float64(totalPower)
		}
		totalPower -= d.PowerLimit
		weight := d.Weight(dir)

		power := setpoint
		if totalWeight == 0 {
			power = 0
		} else if totalPower != 0 {
			power = int(fixed*float64(d.Limits[dir]) + flexible*(weight/totalWeight))
		}
		power = domain.Tighter(dir, d.PowerLimit, domain.Looser(dir, power, setpoint-totalPower))
		setpoint -= s.command(d, power, now, result)

		totalWeight = math.Round((totalWeight-weight)*100) / 100
	}
}

func (s *Distributor) command(d *domain.Device, power int, now time.Time, result *domain.CycleResult) int {
	before := d.PowerSetpoint
	accepted := d.Distribute(power, s.Settings.PowerTolerance, now)
	result.Commands = append(result.Commands, domain.DeviceCommand{
		DeviceId:      d.Id,
		ProductKey:    d.ProductKey,
		Requested:     power,
		Accepted:      accepted,
		PowerSetpoint: d.PowerSetpoint,
		Changed:       d.PowerSetpoint != before,
	})
	s.Logger.Debug("distribution: device command", zap.String("device", d.Id),
		zap.Int("requested", power), zap.Int("accepted", accepted), zap.Int("setpoint", d.PowerSetpoint))
	return accepted
}

func (s *Distributor) activeGroup(d *domain.Device) *domain.FuseGroup {
	if d.Status != domain.DeviceStatusActive {
		return nil
	}
	return s.groups[d.FuseGroup]
}

// sortedActive returns the active devices ordered by priority key.
func (s *Distributor) sortedActive(dir domain.Direction, descending bool) []*domain.Device {
	var devices []*domain.Device
	for _, d := range s.devices {
		if s.activeGroup(d) != nil {
			devices = append(devices, d)
		}
	}
	sort.SliceStable(devices, func(i, j int) bool {
		if descending {
			return devices[i].PriorityKey(dir) > devices[j].PriorityKey(dir)
		}
		return devices[i].PriorityKey(dir) < devices[j].PriorityKey(dir)
	})
	return devices
}

// StopAll zeroes every committed setpoint and clears the smoothing history.
// It returns a command for each device that was delivering power.
func (s *Distributor) StopAll(now time.Time) []domain.DeviceCommand {
	var commands []domain.DeviceCommand
	for _, d := range s.devices {
		if d.PowerSetpoint == 0 {
			continue
		}
		d.PowerSetpoint = 0
		d.CommitReadyAt = now
		commands = append(commands, domain.DeviceCommand{
			DeviceId:   d.Id,
			ProductKey: d.ProductKey,
			Changed:    true,
		})
	}
	s.history = []int{0}
	return commands
}

func (s *Distributor) Snapshot() domain.DistributionState {
	state := domain.DistributionState{
		Mode:        s.mode.String(),
		ManualPower: s.manualPower,
		Setpoint:    s.last.Setpoint,
		Solar:       s.last.Solar,
		SolarOnly:   s.last.SolarOnly,
		LastMeter:   s.last.Meter,
		LastUpdate:  s.last.Time,
	}
	for _, d := range s.devices {
		state.Devices = append(state.Devices, d.Snapshot(s.last.Time))
	}
	return state
}

// History returns the smoothing history, oldest first.
func (s *Distributor) History() []int {
	return append([]int(nil), s.history...)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ensure interface compliance
var _ port.PowerDistributor = (*Distributor)(nil)
