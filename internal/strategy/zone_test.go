package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvg-trade-bot-go/internal/market"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// bar builds a valid candle at slot i of a 4h grid.
func bar(i int, open, high, low, close float64) market.Candle {
	return market.Candle{
		OpenTime:  testStart.Add(time.Duration(i) * 4 * time.Hour),
		CloseTime: testStart.Add(time.Duration(i+1) * 4 * time.Hour),
		Open:      open, High: high, Low: low, Close: close,
		Volume: 1,
	}
}

// window assembles the candles into a closed window ending at the last close.
func window(t *testing.T, candles ...market.Candle) market.Window {
	t.Helper()
	s := market.NewSeries("4h", 0)
	for _, c := range candles {
		require.NoError(t, s.Append(c))
	}
	return s.ClosedAt(candles[len(candles)-1].CloseTime)
}

func TestDetectFVG(t *testing.T) {
	d := Detector{Kind: ZoneKindFVG}

	t.Run("BullishGap", func(t *testing.T) {
		w := window(t,
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 106, 101, 105),
			bar(2, 105, 108, 104, 107), // low 104 > candle-0 high 102
		)
		zones := d.Detect(w)
		require.Len(t, zones, 1)
		z := zones[0]
		assert.Equal(t, ZoneBullish, z.Type)
		assert.Equal(t, 104.0, z.Top)
		assert.Equal(t, 102.0, z.Bottom)
		assert.Equal(t, w.At(2).CloseTime, z.FormedAt)
		assert.Equal(t, market.Timeframe("4h"), z.Timeframe)
	})

	t.Run("BearishGap", func(t *testing.T) {
		w := window(t,
			bar(0, 105, 106, 103, 104),
			bar(1, 104, 104, 99, 100),
			bar(2, 100, 101, 97, 98), // high 101 < candle-0 low 103
		)
		zones := d.Detect(w)
		require.Len(t, zones, 1)
		z := zones[0]
		assert.Equal(t, ZoneBearish, z.Type)
		assert.Equal(t, 103.0, z.Top)
		assert.Equal(t, 101.0, z.Bottom)
	})

	t.Run("NoGap", func(t *testing.T) {
		w := window(t,
			bar(0, 100, 103, 99, 102),
			bar(1, 102, 104, 101, 103),
			bar(2, 103, 105, 102, 104), // low 102 does not clear high 103
		)
		assert.Empty(t, d.Detect(w))
	})

	t.Run("TooFewCandles", func(t *testing.T) {
		w := window(t,
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 106, 101, 105),
		)
		assert.Empty(t, d.Detect(w))
	})

	t.Run("DeterministicKey", func(t *testing.T) {
		w := window(t,
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 106, 101, 105),
			bar(2, 105, 108, 104, 107),
		)
		first := d.Detect(w)
		second := d.Detect(w)
		require.Len(t, first, 1)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].Key(), second[0].Key())
		assert.Equal(t, first[0].ID, first[0].Key())
	})

	t.Run("OnlyNewestCandleScanned", func(t *testing.T) {
		// The gap is between candles 0..2; candle 3 forms no new gap, so
		// detecting on the 4-candle window must return nothing.
		w := window(t,
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 106, 101, 105),
			bar(2, 105, 108, 104, 107),
			bar(3, 107, 108, 103, 105),
		)
		assert.Empty(t, d.Detect(w))
	})
}

func TestDetectOrderBlock(t *testing.T) {
	t.Run("BearishOffSwingHigh", func(t *testing.T) {
		d := Detector{Kind: ZoneKindOrderBlock, SwingWing: 2}
		// Swing high at candle 3 (index n-1-wing = 3 with n=6), followed by
		// a bearish displacement candle.
		w := window(t,
			bar(0, 100, 103, 99, 102),
			bar(1, 102, 105, 101, 104),
			bar(2, 104, 107, 103, 106),
			bar(3, 106, 110, 105, 108), // swing high 110
			bar(4, 108, 109, 104, 105),
			bar(5, 105, 106, 98, 99), // bearish displacement
		)
		zones := d.Detect(w)
		require.Len(t, zones, 1)
		z := zones[0]
		assert.Equal(t, ZoneBearish, z.Type)
		assert.Equal(t, 105.0, z.Top)   // displacement open
		assert.Equal(t, 99.0, z.Bottom) // displacement close
	})

	t.Run("WickRange", func(t *testing.T) {
		d := Detector{Kind: ZoneKindOrderBlock, SwingWing: 2, UseWickRange: true}
		w := window(t,
			bar(0, 100, 103, 99, 102),
			bar(1, 102, 105, 101, 104),
			bar(2, 104, 107, 103, 106),
			bar(3, 106, 110, 105, 108),
			bar(4, 108, 109, 104, 105),
			bar(5, 105, 106, 98, 99),
		)
		zones := d.Detect(w)
		require.Len(t, zones, 1)
		assert.Equal(t, 106.0, zones[0].Top)
		assert.Equal(t, 98.0, zones[0].Bottom)
	})

	t.Run("BullishOffSwingLow", func(t *testing.T) {
		d := Detector{Kind: ZoneKindOrderBlock, SwingWing: 2}
		w := window(t,
			bar(0, 108, 110, 106, 107),
			bar(1, 107, 108, 104, 105),
			bar(2, 105, 106, 102, 103),
			bar(3, 103, 104, 98, 100), // swing low 98
			bar(4, 100, 103, 99, 102),
			bar(5, 102, 109, 101, 108), // bullish displacement
		)
		zones := d.Detect(w)
		require.Len(t, zones, 1)
		z := zones[0]
		assert.Equal(t, ZoneBullish, z.Type)
		assert.Equal(t, 108.0, z.Top)
		assert.Equal(t, 102.0, z.Bottom)
	})

	t.Run("NoSwing", func(t *testing.T) {
		d := Detector{Kind: ZoneKindOrderBlock, SwingWing: 2}
		// Monotonic rise: candle 3's high is exceeded by candle 4, so no
		// swing high exists and the bearish displacement finds nothing.
		w := window(t,
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 104, 100, 103),
			bar(2, 103, 106, 102, 105),
			bar(3, 105, 108, 104, 107),
			bar(4, 107, 111, 106, 110),
			bar(5, 110, 111, 103, 104),
		)
		assert.Empty(t, d.Detect(w))
	})

	t.Run("DisplacementDirectionRequired", func(t *testing.T) {
		d := Detector{Kind: ZoneKindOrderBlock, SwingWing: 2}
		// Swing high present but the newest candle closes up.
		w := window(t,
			bar(0, 100, 103, 99, 102),
			bar(1, 102, 105, 101, 104),
			bar(2, 104, 107, 103, 106),
			bar(3, 106, 110, 105, 108),
			bar(4, 108, 109, 104, 105),
			bar(5, 105, 109, 104, 108),
		)
		assert.Empty(t, d.Detect(w))
	})
}

func TestZoneContainsAndTouches(t *testing.T) {
	z := Zone{Type: ZoneBullish, Top: 105, Bottom: 100}

	assert.True(t, z.Contains(100))
	assert.True(t, z.Contains(105))
	assert.True(t, z.Contains(102.5))
	assert.False(t, z.Contains(99.99))
	assert.False(t, z.Contains(105.01))

	assert.True(t, z.Touches(bar(0, 104, 107, 103, 106)))  // overlaps top
	assert.True(t, z.Touches(bar(0, 99, 100, 98, 99.5)))   // high exactly at bottom
	assert.False(t, z.Touches(bar(0, 97, 99, 96, 98)))     // fully below
	assert.False(t, z.Touches(bar(0, 106, 108, 105.5, 107))) // fully above
}
