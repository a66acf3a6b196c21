package market

import (
	"fmt"
	"time"
)

// Series is a rolling, append-only sequence of candles for one timeframe,
// ordered by open time. The trading core never reads the series directly;
// it works on closed-candle Windows obtained through ClosedAt, which is
// how the no-lookahead guarantee is enforced structurally.
type Series struct {
	timeframe Timeframe
	candles   []Candle
	maxLen    int
}

// NewSeries creates a series that retains at most maxLen candles
// (0 means unbounded, used by backtests).
func NewSeries(tf Timeframe, maxLen int) *Series {
	return &Series{timeframe: tf, maxLen: maxLen}
}

// Timeframe returns the series' interval.
func (s *Series) Timeframe() Timeframe { return s.timeframe }

// Len returns the number of retained candles.
func (s *Series) Len() int { return len(s.candles) }

// Append adds a candle to the series. Candles must arrive oldest-first;
// a candle with an open time already present is ignored (idempotent
// re-fetch), one that would go backwards is an error.
func (s *Series) Append(c Candle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("rejecting candle: %w", err)
	}
	if n := len(s.candles); n > 0 {
		last := s.candles[n-1]
		if c.OpenTime.Equal(last.OpenTime) {
			return nil
		}
		if c.OpenTime.Before(last.OpenTime) {
			return fmt.Errorf("out-of-order candle: open %s before last open %s",
				c.OpenTime, last.OpenTime)
		}
	}
	s.candles = append(s.candles, c)
	if s.maxLen > 0 && len(s.candles) > s.maxLen {
		s.candles = s.candles[len(s.candles)-s.maxLen:]
	}
	return nil
}

// ClosedAt returns a view of every candle fully closed at time now.
// The most recent, still-forming candle is always excluded.
func (s *Series) ClosedAt(now time.Time) Window {
	n := len(s.candles)
	for n > 0 && !s.candles[n-1].ClosedBy(now) {
		n--
	}
	return Window{timeframe: s.timeframe, candles: s.candles[:n], asOf: now}
}

// Window is an immutable view over closed candles, valid as of a specific
// decision time. All pattern detection and state transitions consume
// Windows, never the underlying Series.
type Window struct {
	timeframe Timeframe
	candles   []Candle
	asOf      time.Time
}

// Timeframe returns the window's interval.
func (w Window) Timeframe() Timeframe { return w.timeframe }

// AsOf returns the decision time the window was built for.
func (w Window) AsOf() time.Time { return w.asOf }

// Len returns the number of closed candles in the window.
func (w Window) Len() int { return len(w.candles) }

// At returns the i-th candle (0 = oldest).
func (w Window) At(i int) Candle { return w.candles[i] }

// Latest returns the newest closed candle, or false when empty.
func (w Window) Latest() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Last returns a sub-window of the newest n candles.
func (w Window) Last(n int) Window {
	if n >= len(w.candles) {
		return w
	}
	return Window{timeframe: w.timeframe, candles: w.candles[len(w.candles)-n:], asOf: w.asOf}
}
