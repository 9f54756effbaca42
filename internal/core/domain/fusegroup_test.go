package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleMemberCeiling(t *testing.T) {
	g := NewFuseGroup("g", 800, -1000)
	d := testDevice("hub1", 50)
	g.Add(d)
	g.BeginCycle()

	assert.Equal(t, 800, g.DeviceLimit(d, DirectionDischarge))
	assert.Equal(t, "g", d.FuseGroup)

	s := NewSingletonFuseGroup("hub2")
	d2 := testDevice("hub2", 50)
	s.Add(d2)
	s.BeginCycle()
	assert.Equal(t, -1200, s.DeviceLimit(d2, DirectionCharge))
}

func TestSharedCeilingFavoursLowLevel(t *testing.T) {
	require := require.New(t)

	for _, ceiling := range []int{3200, 800} {
		g := NewFuseGroup("g", ceiling, -ceiling)
		high := testDevice("high", 90)
		low := testDevice("low", 10)
		high.HomePower.Set(300)
		low.HomePower.Set(300)
		g.Add(high)
		g.Add(low)
		g.BeginCycle()

		highLimit := g.DeviceLimit(high, DirectionDischarge)
		lowLimit := g.DeviceLimit(low, DirectionDischarge)
		require.Greater(lowLimit, highLimit)
		require.LessOrEqual(highLimit+lowLimit, min(ceiling, 2400))
		require.LessOrEqual(lowLimit, low.Limits[DirectionDischarge])
	}
}

func TestSharedCeilingValues(t *testing.T) {
	g := NewFuseGroup("g", 800, -800)
	high := testDevice("high", 90)
	low := testDevice("low", 10)
	high.HomePower.Set(300)
	low.HomePower.Set(300)
	g.Add(high)
	g.Add(low)
	g.BeginCycle()

	assert.Equal(t, 80, g.DeviceLimit(high, DirectionDischarge))
	assert.Equal(t, 720, g.DeviceLimit(low, DirectionDischarge))

	// charging splits by free headroom in the same way
	g.BeginCycle()
	assert.Equal(t, -80, g.DeviceLimit(high, DirectionCharge))
	assert.Equal(t, -720, g.DeviceLimit(low, DirectionCharge))
}

func TestCeilingCachedWithinCycle(t *testing.T) {
	g := NewFuseGroup("g", 800, -800)
	a := testDevice("a", 50)
	b := testDevice("b", 50)
	a.HomePower.Set(100)
	b.HomePower.Set(100)
	g.Add(a)
	g.Add(b)
	g.BeginCycle()
	first := g.DeviceLimit(a, DirectionDischarge)

	// level changes inside a cycle do not move the cached ceilings
	a.SetAvailableEnergy(0)
	assert.Equal(t, first, g.DeviceLimit(a, DirectionDischarge))

	g.BeginCycle()
	assert.NotEqual(t, first, g.DeviceLimit(a, DirectionDischarge))
}

func TestIdleMemberKeepsPreviousCeiling(t *testing.T) {
	g := NewFuseGroup("g", 800, -800)
	a := testDevice("a", 50)
	b := testDevice("b", 50)
	a.HomePower.Set(100)
	b.HomePower.Set(100)
	g.Add(a)
	g.Add(b)
	g.BeginCycle()
	previous := g.DeviceLimit(b, DirectionDischarge)
	require.Equal(t, 400, previous)

	b.HomePower.Set(0)
	g.BeginCycle()
	assert.Equal(t, 800, g.DeviceLimit(a, DirectionDischarge))
	assert.Equal(t, previous, g.DeviceLimit(b, DirectionDischarge))
}

func TestRemoveMember(t *testing.T) {
	g := NewFuseGroup("g", 800, -800)
	a := testDevice("a", 50)
	g.Add(a)
	g.Add(a)
	require.Len(t, g.Members(), 1)
	g.Remove("a")
	assert.Empty(t, g.Members())
}
