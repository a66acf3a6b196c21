package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bullZone makes a bullish test zone spanning [100, 105].
func bullZone() Zone {
	z := Zone{Type: ZoneBullish, Top: 105, Bottom: 100, FormedAt: testStart, Timeframe: "4h"}
	z.ID = z.Key()
	return z
}

func bearZone() Zone {
	z := Zone{Type: ZoneBearish, Top: 105, Bottom: 100, FormedAt: testStart, Timeframe: "4h"}
	z.ID = z.Key()
	return z
}

func TestTrackerRejectedMode(t *testing.T) {
	tr := Tracker{Mode: TriggerRejected}

	t.Run("EnterThenReject", func(t *testing.T) {
		zs := NewZoneState(bullZone())

		got := tr.Update(zs, bar(0, 106, 107, 103, 106))
		require.NotNil(t, got)
		assert.Equal(t, TransitionEntered, got.Kind)
		assert.True(t, zs.Entered)

		// Close below the bottom rejects the bullish zone, arming a short.
		got = tr.Update(zs, bar(1, 104, 104, 98, 99))
		require.NotNil(t, got)
		assert.Equal(t, TransitionTriggered, got.Kind)
		assert.Equal(t, TriggerStateRej, got.State)
		assert.Equal(t, Short, got.Direction)
		assert.Equal(t, 99.0, zs.TriggerPrice)
		assert.Equal(t, TriggerStateRej, zs.Trigger)
	})

	t.Run("TriggerTakesPrecedenceOverWick", func(t *testing.T) {
		// A candle that both wicks fully through and closes through must
		// trigger, not invalidate.
		zs := NewZoneState(bullZone())
		require.NotNil(t, tr.Update(zs, bar(0, 106, 107, 103, 106)))

		got := tr.Update(zs, bar(1, 104, 104, 95, 97))
		require.NotNil(t, got)
		assert.Equal(t, TransitionTriggered, got.Kind)
		assert.False(t, zs.Invalidated)
	})

	t.Run("WickThroughWithoutCloseInvalidates", func(t *testing.T) {
		zs := NewZoneState(bullZone())
		require.NotNil(t, tr.Update(zs, bar(0, 106, 107, 103, 106)))

		// Low pierces the bottom but the close recovers inside.
		got := tr.Update(zs, bar(1, 104, 104, 99, 102))
		require.NotNil(t, got)
		assert.Equal(t, TransitionInvalidated, got.Kind)
		assert.True(t, zs.Invalidated)
	})

	t.Run("NoTriggerBeforeEntry", func(t *testing.T) {
		// A close through the zone without ever touching it does not arm a
		// trade, but the wick rule still retires the zone.
		zs := NewZoneState(bullZone())
		got := tr.Update(zs, bar(0, 98, 99, 96, 97))
		require.NotNil(t, got)
		assert.Equal(t, TransitionInvalidated, got.Kind)
	})

	t.Run("BearishMirror", func(t *testing.T) {
		zs := NewZoneState(bearZone())
		require.NotNil(t, tr.Update(zs, bar(0, 99, 102, 98, 99)))

		got := tr.Update(zs, bar(1, 101, 107, 101, 106))
		require.NotNil(t, got)
		assert.Equal(t, TransitionTriggered, got.Kind)
		assert.Equal(t, Long, got.Direction)
	})

	t.Run("NoUpdatesAfterTrigger", func(t *testing.T) {
		zs := NewZoneState(bullZone())
		require.NotNil(t, tr.Update(zs, bar(0, 106, 107, 103, 106)))
		require.NotNil(t, tr.Update(zs, bar(1, 104, 104, 98, 99)))
		assert.Nil(t, tr.Update(zs, bar(2, 99, 100, 95, 96)))
	})
}

func TestTrackerHeldMode(t *testing.T) {
	tr := Tracker{Mode: TriggerHeld}

	t.Run("CloseInsideTriggers", func(t *testing.T) {
		zs := NewZoneState(bullZone())
		got := tr.Update(zs, bar(0, 106, 107, 103, 104))
		require.NotNil(t, got)
		assert.Equal(t, TransitionTriggered, got.Kind)
		assert.Equal(t, TriggerStateHld, got.State)
		assert.Equal(t, Long, got.Direction)
	})

	t.Run("TouchWithoutCloseInsideOnlyEnters", func(t *testing.T) {
		zs := NewZoneState(bullZone())
		got := tr.Update(zs, bar(0, 106, 107, 104, 106))
		require.NotNil(t, got)
		assert.Equal(t, TransitionEntered, got.Kind)
		assert.Equal(t, TriggerNone, zs.Trigger)
	})

	t.Run("FormationSideCloseInvalidatesFirst", func(t *testing.T) {
		zs := NewZoneState(bullZone())
		got := tr.Update(zs, bar(0, 104, 104, 96, 97))
		require.NotNil(t, got)
		assert.Equal(t, TransitionInvalidated, got.Kind)
		assert.True(t, zs.Invalidated)
	})
}

func TestTrackerCheckInvalidation(t *testing.T) {
	tr := Tracker{Mode: TriggerRejected}

	// Rejected bullish zone arms a short; the losing side is above the top.
	zs := NewZoneState(bullZone())
	require.NotNil(t, tr.Update(zs, bar(0, 106, 107, 103, 106)))
	require.NotNil(t, tr.Update(zs, bar(1, 104, 104, 98, 99)))

	assert.Nil(t, tr.CheckInvalidation(zs, bar(2, 99, 104, 98, 103)))

	got := tr.CheckInvalidation(zs, bar(3, 103, 107, 103, 106))
	require.NotNil(t, got)
	assert.Equal(t, TransitionInvalidated, got.Kind)
	assert.Equal(t, TriggerStateRej, got.State)
	assert.True(t, zs.Invalidated)

	// Idempotent once invalidated.
	assert.Nil(t, tr.CheckInvalidation(zs, bar(4, 106, 108, 105, 107)))
}

func TestZoneStateExtremes(t *testing.T) {
	tr := Tracker{Mode: TriggerRejected}
	zs := NewZoneState(bullZone())

	assert.False(t, zs.HasExtremes())

	require.NotNil(t, tr.Update(zs, bar(0, 106, 108, 103, 106)))
	require.Nil(t, tr.Update(zs, bar(1, 106, 107, 101, 106)))

	assert.True(t, zs.HasExtremes())
	assert.Equal(t, 108.0, zs.MaxHighTouched)
	assert.Equal(t, 101.0, zs.MinLowTouched)

	// A candle not touching the zone leaves the extremes untouched.
	require.Nil(t, tr.Update(zs, bar(2, 106, 110, 105.5, 109)))
	assert.Equal(t, 108.0, zs.MaxHighTouched)
	assert.Equal(t, 101.0, zs.MinLowTouched)
}

func TestZoneStateDirection(t *testing.T) {
	bull := NewZoneState(bullZone())
	bear := NewZoneState(bearZone())

	assert.Equal(t, Short, bull.Direction(TriggerRejected))
	assert.Equal(t, Long, bull.Direction(TriggerHeld))
	assert.Equal(t, Long, bear.Direction(TriggerRejected))
	assert.Equal(t, Short, bear.Direction(TriggerHeld))
}

func TestNewZoneState(t *testing.T) {
	zs := NewZoneState(bullZone())
	assert.Equal(t, TriggerNone, zs.Trigger)
	assert.Equal(t, math.MaxFloat64, zs.MinLowTouched)
	assert.Zero(t, zs.MaxHighTouched)
	assert.False(t, zs.Consumed())

	zs.Invalidated = true
	assert.True(t, zs.Consumed())
}
