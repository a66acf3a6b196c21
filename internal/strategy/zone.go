package strategy

import (
	"fmt"
	"time"

	"fvg-trade-bot-go/internal/market"
)

// ZoneType is the formation direction of an imbalance zone.
type ZoneType string

const (
	ZoneBullish ZoneType = "BULLISH"
	ZoneBearish ZoneType = "BEARISH"
)

// ZoneKind selects the pattern the detector looks for.
type ZoneKind string

const (
	ZoneKindFVG        ZoneKind = "fvg"
	ZoneKindOrderBlock ZoneKind = "orderblock"
)

// Zone is an immutable price-imbalance area detected on closed candles.
// Geometry never changes after formation; all mutable tracking state
// lives in ZoneState.
type Zone struct {
	ID        string
	Type      ZoneType
	Top       float64
	Bottom    float64
	FormedAt  time.Time // close time of the forming candle
	Timeframe market.Timeframe
}

// Key identifies a zone by its geometry and formation time. Re-detecting
// on the same closed window must yield the same key, which is how
// duplicate zones are suppressed.
func (z Zone) Key() string {
	return fmt.Sprintf("%s_%s_%.2f_%.2f_%d", z.Timeframe, z.Type, z.Top, z.Bottom, z.FormedAt.Unix())
}

// Contains reports whether price is inside the zone, boundaries inclusive.
func (z Zone) Contains(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

// Touches reports whether the candle range overlaps the zone.
func (z Zone) Touches(c market.Candle) bool {
	return c.Low <= z.Top && c.High >= z.Bottom
}

// Detector scans closed-candle windows for zones.
type Detector struct {
	Kind ZoneKind
	// Order-block settings; ignored for FVG detection.
	SwingWing    int  // candles on each side that must not exceed the swing extreme
	UseWickRange bool // zone spans the displacement candle's wicks instead of its body
}

// Detect returns the zones formed by the newest closed candle of the
// window. It is a pure function: calling it twice on the same window
// yields zones with identical keys and never mutates anything.
func (d Detector) Detect(w market.Window) []Zone {
	switch d.Kind {
	case ZoneKindOrderBlock:
		return d.detectOrderBlock(w)
	default:
		return d.detectFVG(w)
	}
}

// detectFVG applies the classic 3-candle imbalance rule to the newest
// closed candle: a bullish gap exists when its low clears the high from
// two candles back, a bearish gap when its high stays under that low.
func (d Detector) detectFVG(w market.Window) []Zone {
	if z, ok := fvgAt(w, w.Len()-1); ok {
		return []Zone{z}
	}
	return nil
}

// fvgAt checks the 3-candle imbalance rule with candle i as the third
// candle of the pattern.
func fvgAt(w market.Window, i int) (Zone, bool) {
	if i < 2 || i >= w.Len() {
		return Zone{}, false
	}
	cur := w.At(i)
	prev2 := w.At(i - 2)

	if cur.Low > prev2.High {
		z := Zone{
			Type:      ZoneBullish,
			Top:       cur.Low,
			Bottom:    prev2.High,
			FormedAt:  cur.CloseTime,
			Timeframe: w.Timeframe(),
		}
		z.ID = z.Key()
		return z, true
	}
	if cur.High < prev2.Low {
		z := Zone{
			Type:      ZoneBearish,
			Top:       prev2.Low,
			Bottom:    cur.High,
			FormedAt:  cur.CloseTime,
			Timeframe: w.Timeframe(),
		}
		z.ID = z.Key()
		return z, true
	}
	return Zone{}, false
}

// detectOrderBlock looks for a confirmed swing point followed by a
// displacement candle in the opposite direction; the displacement
// candle's range becomes the zone. The newest closed candle must be the
// displacement candle, so each candle close is examined exactly once.
func (d Detector) detectOrderBlock(w market.Window) []Zone {
	wing := d.SwingWing
	if wing <= 0 {
		wing = 2
	}
	n := w.Len()
	// Need the displacement candle, the swing candle and a full wing on
	// the swing's far side.
	if n < 2*wing+2 {
		return nil
	}
	disp := w.At(n - 1)
	swingIdx := n - 1 - wing
	_ = w.At(swingIdx)

	var zones []Zone
	if isSwingHigh(w, swingIdx, wing) && disp.Close < disp.Open {
		// Bearish displacement off a swing high: the candle is treated
		// as a supply zone.
		top, bottom := disp.Open, disp.Close
		if d.UseWickRange {
			top, bottom = disp.High, disp.Low
		}
		if top > bottom {
			z := Zone{Type: ZoneBearish, Top: top, Bottom: bottom, FormedAt: disp.CloseTime, Timeframe: w.Timeframe()}
			z.ID = z.Key()
			zones = append(zones, z)
		}
	}
	if isSwingLow(w, swingIdx, wing) && disp.Close > disp.Open {
		top, bottom := disp.Close, disp.Open
		if d.UseWickRange {
			top, bottom = disp.High, disp.Low
		}
		if top > bottom {
			z := Zone{Type: ZoneBullish, Top: top, Bottom: bottom, FormedAt: disp.CloseTime, Timeframe: w.Timeframe()}
			z.ID = z.Key()
			zones = append(zones, z)
		}
	}
	return zones
}

func isSwingHigh(w market.Window, i, wing int) bool {
	h := w.At(i).High
	for j := i - wing; j <= i+wing; j++ {
		if j == i || j < 0 || j >= w.Len() {
			continue
		}
		if w.At(j).High > h {
			return false
		}
	}
	return true
}

func isSwingLow(w market.Window, i, wing int) bool {
	l := w.At(i).Low
	for j := i - wing; j <= i+wing; j++ {
		if j == i || j < 0 || j >= w.Len() {
			continue
		}
		if w.At(j).Low < l {
			return false
		}
	}
	return true
}
