package strategy

import (
	"math"
	"time"

	"fvg-trade-bot-go/internal/market"
)

// TriggerMode decides which zone interaction arms a trade and which trade
// direction it maps to. This is configuration, not a hardcoded rule: the
// same zones power both the fade ("rejected") and continuation ("held")
// strategy families.
type TriggerMode string

const (
	// TriggerRejected trades against a zone that price entered and then
	// closed through on the formation side (failed-FVG family).
	TriggerRejected TriggerMode = "rejected"
	// TriggerHeld trades with a zone that price entered and closed
	// inside of (held-FVG family).
	TriggerHeld TriggerMode = "held"
)

// TriggerState is the terminal interaction state of a tracked zone.
type TriggerState string

const (
	TriggerNone     TriggerState = "NONE"
	TriggerStateRej TriggerState = "REJECTED"
	TriggerStateHld TriggerState = "HELD"
)

// Direction of a trade derived from a zone trigger.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for longs and -1 for shorts.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// ZoneState carries every mutable fact about a zone while it is tracked.
// The Zone itself stays immutable.
type ZoneState struct {
	Zone Zone

	Entered      bool
	Trigger      TriggerState
	TriggerTime  time.Time
	TriggerPrice float64

	// Extremes of every candle that touched the zone, from first entry
	// through the trigger candle. They anchor the stop loss.
	MaxHighTouched float64
	MinLowTouched  float64

	Invalidated    bool
	HasFilledTrade bool
	PendingSetupID string
	CooldownUntil  time.Time
}

// NewZoneState starts tracking a freshly formed zone.
func NewZoneState(z Zone) *ZoneState {
	return &ZoneState{Zone: z, Trigger: TriggerNone, MinLowTouched: math.MaxFloat64}
}

// Direction maps the zone's trigger state to a trade direction under the
// given mode. Rejected bullish zones fade short, held bullish zones
// continue long; bearish zones mirror.
func (zs *ZoneState) Direction(mode TriggerMode) Direction {
	bullish := zs.Zone.Type == ZoneBullish
	if mode == TriggerRejected {
		if bullish {
			return Short
		}
		return Long
	}
	if bullish {
		return Long
	}
	return Short
}

// Consumed reports whether the zone is out of play for new setups.
func (zs *ZoneState) Consumed() bool {
	return zs.Invalidated || zs.HasFilledTrade
}

// TransitionKind labels a tracker event.
type TransitionKind string

const (
	TransitionEntered     TransitionKind = "ENTERED"
	TransitionTriggered   TransitionKind = "TRIGGERED"
	TransitionInvalidated TransitionKind = "INVALIDATED"
)

// Transition is emitted by the tracker when a zone changes state.
type Transition struct {
	Kind      TransitionKind
	Zone      Zone
	State     TriggerState
	Direction Direction
	At        time.Time
	Price     float64
}

// Tracker advances zone states as native-timeframe candles close.
//
// Rule set (fixed here rather than inferred per call site):
//   - A touch is inclusive range overlap.
//   - Rejected mode: the trigger is a close fully beyond the zone's
//     formation side (bullish: close < bottom). A candle that wicks fully
//     through without such a close invalidates the zone. Since a trigger
//     close implies the wick, the trigger is evaluated first.
//   - Held mode: invalidation is evaluated first (close fully beyond the
//     formation side), then the trigger (close back inside the zone).
//     The two close rules are disjoint, so precedence is unambiguous.
//   - After a trigger, CheckInvalidation applies the close rule on the
//     side opposite the armed trade direction.
type Tracker struct {
	Mode TriggerMode
}

// Update processes one closed candle of the zone's native timeframe for a
// zone that has not yet triggered. It returns the resulting transition,
// if any. Invalidated zones must be removed from tracking by the caller.
func (t Tracker) Update(zs *ZoneState, c market.Candle) *Transition {
	if zs.Invalidated || zs.Trigger != TriggerNone {
		return nil
	}

	var entered *Transition
	if zs.Zone.Touches(c) {
		if !zs.Entered {
			zs.Entered = true
			entered = &Transition{Kind: TransitionEntered, Zone: zs.Zone, At: c.CloseTime, Price: c.Close}
		}
		zs.recordExtremes(c)
	}

	if t.Mode == TriggerHeld {
		if tr := t.checkFormationSideClose(zs, c); tr != nil {
			return tr
		}
		if zs.Entered && zs.Zone.Contains(c.Close) {
			return t.fireTrigger(zs, c, TriggerStateHld)
		}
		return entered
	}

	// Rejected mode.
	if zs.Entered && closedBeyondFormationSide(zs.Zone, c) {
		return t.fireTrigger(zs, c, TriggerStateRej)
	}
	if tr := t.wickInvalidation(zs, c); tr != nil {
		return tr
	}
	return entered
}

// CheckInvalidation applies the post-trigger invalidation rule: a close
// fully beyond the zone on the side opposite the armed trade direction
// kills the thesis. It is also safe to call pre-trigger in held mode,
// where the armed direction equals the formation direction.
func (t Tracker) CheckInvalidation(zs *ZoneState, c market.Candle) *Transition {
	if zs.Invalidated {
		return nil
	}
	dir := zs.Direction(t.Mode)
	losing := false
	if dir == Long {
		losing = c.Close < zs.Zone.Bottom
	} else {
		losing = c.Close > zs.Zone.Top
	}
	if losing {
		zs.Invalidated = true
		return &Transition{Kind: TransitionInvalidated, Zone: zs.Zone, State: zs.Trigger, At: c.CloseTime, Price: c.Close}
	}
	return nil
}

func (t Tracker) fireTrigger(zs *ZoneState, c market.Candle, state TriggerState) *Transition {
	zs.Trigger = state
	zs.TriggerTime = c.CloseTime
	zs.TriggerPrice = c.Close
	return &Transition{
		Kind:      TransitionTriggered,
		Zone:      zs.Zone,
		State:     state,
		Direction: zs.Direction(t.Mode),
		At:        c.CloseTime,
		Price:     c.Close,
	}
}

// checkFormationSideClose invalidates a held-mode zone whose candle
// closed fully through the formation side.
func (t Tracker) checkFormationSideClose(zs *ZoneState, c market.Candle) *Transition {
	if closedBeyondFormationSide(zs.Zone, c) {
		zs.Invalidated = true
		return &Transition{Kind: TransitionInvalidated, Zone: zs.Zone, At: c.CloseTime, Price: c.Close}
	}
	return nil
}

// wickInvalidation removes a rejected-mode zone that price wicked fully
// through without a confirming close.
func (t Tracker) wickInvalidation(zs *ZoneState, c market.Candle) *Transition {
	through := false
	if zs.Zone.Type == ZoneBullish {
		through = c.Low < zs.Zone.Bottom
	} else {
		through = c.High > zs.Zone.Top
	}
	if through {
		zs.Invalidated = true
		return &Transition{Kind: TransitionInvalidated, Zone: zs.Zone, At: c.CloseTime, Price: c.Close}
	}
	return nil
}

func (zs *ZoneState) recordExtremes(c market.Candle) {
	if c.High >= zs.Zone.Bottom && c.High > zs.MaxHighTouched {
		zs.MaxHighTouched = c.High
	}
	if c.Low <= zs.Zone.Top && c.Low < zs.MinLowTouched {
		zs.MinLowTouched = c.Low
	}
}

func closedBeyondFormationSide(z Zone, c market.Candle) bool {
	if z.Type == ZoneBullish {
		return c.Close < z.Bottom
	}
	return c.Close > z.Top
}

// HasExtremes reports whether any candle ever touched the zone; without
// extremes no stop can be derived.
func (zs *ZoneState) HasExtremes() bool {
	return zs.MaxHighTouched > 0 && zs.MinLowTouched < math.MaxFloat64
}
