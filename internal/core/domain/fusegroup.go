package domain

import "math"

// FuseGroup arbitrates a shared circuit ceiling between its member devices.
// Ceilings are computed once per control cycle: BeginCycle invalidates the
// cache and the first DeviceLimit call computes every member at once.
type FuseGroup struct {
	Name    string
	Ceiling PowerLimits

	members  []*Device
	computed bool
	ceilings map[string]int
}

func NewFuseGroup(name string, maxPower, minPower int) *FuseGroup {
	return &FuseGroup{
		Name:     name,
		Ceiling:  PowerLimits{min(minPower, 0), max(maxPower, 0)},
		ceilings: map[string]int{},
	}
}

// NewSingletonFuseGroup returns a group without a shared ceiling.
func NewSingletonFuseGroup(name string) *FuseGroup {
	return NewFuseGroup(name, math.MaxInt32, math.MinInt32)
}

func (g *FuseGroup) Add(d *Device) {
	for _, m := range g.members {
		if m == d {
			return
		}
	}
	g.members = append(g.members, d)
	d.FuseGroup = g.Name
}

func (g *FuseGroup) Remove(id string) {
	for i, m := range g.members {
		if m.Id == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			delete(g.ceilings, id)
			return
		}
	}
}

func (g *FuseGroup) Members() []*Device {
	return append([]*Device(nil), g.members...)
}

func (g *FuseGroup) BeginCycle() {
	g.computed = false
}

// DeviceLimit returns the momentary ceiling of d in direction dir.
func (g *FuseGroup) DeviceLimit(d *Device, dir Direction) int {
	if !g.computed {
		g.computed = true
		g.compute(dir)
	}
	ceiling, ok := g.ceilings[d.Id]
	if !ok {
		ceiling = Tighter(dir, g.Ceiling[dir], d.Limits[dir])
	}
	d.PowerLimit = ceiling
	return ceiling
}

func (g *FuseGroup) compute(dir Direction) {
	if len(g.members) == 1 {
		d := g.members[0]
		g.ceilings[d.Id] = Tighter(dir, g.Ceiling[dir], d.Limits[dir])
		return
	}

	var drawing []*Device
	total := 0
	weight := 0.0
	for _, d := range g.members {
		if d.Status != DeviceStatusActive || d.Idle() {
			continue
		}
		drawing = append(drawing, d)
		total += d.Limits[dir]
		weight += (100 - d.Level) * float64(d.Limits[dir])
	}

	budget := Tighter(dir, g.Ceiling[dir], total)
	available := budget
	for _, d := range drawing {
		share := d.Limits[dir]
		if weight != 0 {
			share = int(float64(budget) * (100 - d.Level) * float64(d.Limits[dir]) / weight)
		}
		share = Tighter(dir, share, d.Limits[dir])
		share = Tighter(dir, share, available)
		available -= share
		g.ceilings[d.Id] = share
	}
}
