package market

import (
	"fmt"
	"time"
)

// Timeframe identifies a candle interval using the exchange's notation,
// e.g. "15m", "1h", "4h", "1d".
type Timeframe string

// Duration converts the timeframe to a time.Duration.
func (tf Timeframe) Duration() (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit := tf[len(tf)-1]
	var n int
	if _, err := fmt.Sscanf(string(tf[:len(tf)-1]), "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
	}
}

// Candle is a single OHLCV bar. A candle is immutable once closed; the
// trading core must only ever look at candles whose CloseTime has passed.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// ClosedBy reports whether the candle is fully closed at time t.
func (c Candle) ClosedBy(t time.Time) bool {
	return !c.CloseTime.After(t)
}

// Validate checks the candle for structural problems (zero range is fine,
// inverted high/low or zero timestamps are not).
func (c Candle) Validate() error {
	if c.OpenTime.IsZero() || c.CloseTime.IsZero() {
		return fmt.Errorf("candle has zero timestamp")
	}
	if !c.CloseTime.After(c.OpenTime) {
		return fmt.Errorf("candle close time %s not after open time %s", c.CloseTime, c.OpenTime)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle high %.8f below low %.8f", c.High, c.Low)
	}
	if c.Open <= 0 || c.Close <= 0 || c.High <= 0 || c.Low <= 0 {
		return fmt.Errorf("candle has non-positive price")
	}
	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("candle open/close outside high-low range")
	}
	return nil
}
