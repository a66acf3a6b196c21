package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"fvg-trade-bot-go/internal/market"
)

// EntryMethod selects how the entry price for a triggered zone is found.
type EntryMethod string

const (
	// EntryHTFClose enters at the trigger candle's close with a market
	// order.
	EntryHTFClose EntryMethod = "htf_close"
	// EntryLTFZone rests a limit order at the boundary of a confirming
	// lower-timeframe zone.
	EntryLTFZone EntryMethod = "ltf_zone"
	// EntryLTFBreakout rests a stop-style limit just beyond the trigger
	// price.
	EntryLTFBreakout EntryMethod = "ltf_breakout"
)

// TargetMethod selects how take-profit levels are derived.
type TargetMethod string

const (
	// TargetFixedRR builds targets from fixed risk-reward multiples.
	TargetFixedRR TargetMethod = "fixed_rr"
	// TargetLiquidity aims at the nearest swing-point liquidity level
	// within an RR band, rejecting the setup when none qualifies.
	TargetLiquidity TargetMethod = "liquidity"
)

// TargetTier is one staged take-profit level.
type TargetTier struct {
	Price float64
	// Fraction of the ORIGINAL position size closed at this tier.
	CloseFraction float64
}

// SetupStatus is the lifecycle state of a pending setup.
type SetupStatus string

const (
	SetupPending   SetupStatus = "PENDING"
	SetupFilled    SetupStatus = "FILLED"
	SetupExpired   SetupStatus = "EXPIRED"
	SetupCancelled SetupStatus = "CANCELLED"
)

// Setup is a fully validated trade plan derived from a triggered zone.
type Setup struct {
	ID           string
	ParentZoneID string
	Direction    Direction
	Entry        float64
	Stop         float64
	Targets      []TargetTier
	Size         float64
	MarketEntry  bool // true for htf_close entries (taker fill)
	CreatedAt    time.Time
	ExpiryAt     time.Time
	Status       SetupStatus
}

// Risk is the per-unit stop distance.
func (s *Setup) Risk() float64 {
	d := s.Entry - s.Stop
	if d < 0 {
		return -d
	}
	return d
}

// RejectReason names the constraint that stopped a setup from being
// created. Rejections are normal control flow, logged and journaled but
// never treated as errors.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectZoneConsumed     RejectReason = "zone_consumed"
	RejectCooldown         RejectReason = "cooldown_active"
	RejectPendingSetup     RejectReason = "pending_setup_exists"
	RejectNoConfirmation   RejectReason = "no_ltf_confirmation"
	RejectNoExtremes       RejectReason = "no_zone_extremes"
	RejectStopTooTight     RejectReason = "stop_too_tight"
	RejectStopTooWide      RejectReason = "stop_too_wide"
	RejectRRTooLow         RejectReason = "rr_below_minimum"
	RejectNoLiquidity      RejectReason = "no_liquidity_target"
	RejectEntryTooFar      RejectReason = "entry_too_far_from_price"
	RejectNotionalTooSmall RejectReason = "notional_below_minimum"
)

// BuilderConfig holds the per-strategy knobs of the setup builder.
type BuilderConfig struct {
	Mode                TriggerMode
	EntryMethod         EntryMethod
	TargetMethod        TargetMethod
	ZoneKind            ZoneKind
	LTFLookback         int     // closed LTF candles searched for a confirming zone
	StopBufferPct       float64 // e.g. 0.002 → stop 0.2% beyond the extreme
	BreakoutPct         float64 // offset for ltf_breakout entries
	MinStopPct          float64 // minimum stop distance as a fraction of entry
	MaxStopPct          float64
	MinRR               float64
	MaxRR               float64 // cap for liquidity targets
	TierRRs             []TierRR
	MaxEntryDistancePct float64
	ExpiryCandles       int // LTF candles until a resting order expires
}

// TierRR is a staged take-profit specification: RR multiple and the
// fraction of original size to close there.
type TierRR struct {
	RR       float64
	Fraction float64
}

// Builder turns triggered zones into validated setups.
type Builder struct {
	cfg   BuilderConfig
	sizer *RiskSizer
	ltfD  time.Duration
}

// NewBuilder wires a setup builder with its risk sizer. The LTF duration
// sets the expiry window (ExpiryCandles * duration).
func NewBuilder(cfg BuilderConfig, sizer *RiskSizer, ltf time.Duration) *Builder {
	return &Builder{cfg: cfg, sizer: sizer, ltfD: ltf}
}

// Build creates a setup for a triggered zone, or explains why it cannot.
// ltf must contain only closed candles; currentPrice is the latest LTF
// close; balance funds the risk sizing.
func (b *Builder) Build(zs *ZoneState, ltf market.Window, currentPrice float64, balance float64, now time.Time) (*Setup, RejectReason, error) {
	if zs.Consumed() {
		return nil, RejectZoneConsumed, nil
	}
	if !zs.CooldownUntil.IsZero() && now.Before(zs.CooldownUntil) {
		return nil, RejectCooldown, nil
	}
	if zs.PendingSetupID != "" {
		return nil, RejectPendingSetup, nil
	}
	if zs.Trigger == TriggerNone {
		return nil, RejectNone, fmt.Errorf("zone %s has no trigger state", zs.Zone.ID)
	}

	dir := zs.Direction(b.cfg.Mode)

	entry, marketEntry, reason := b.entryPrice(zs, ltf, dir)
	if reason != RejectNone {
		return nil, reason, nil
	}

	stop, reason, err := b.stopPrice(zs, dir)
	if err != nil || reason != RejectNone {
		return nil, reason, err
	}

	risk := entry - stop
	if dir == Short {
		risk = stop - entry
	}
	if risk <= 0 {
		return nil, RejectStopTooTight, nil
	}
	stopPct := risk / entry
	if stopPct < b.cfg.MinStopPct {
		return nil, RejectStopTooTight, nil
	}
	if b.cfg.MaxStopPct > 0 && stopPct > b.cfg.MaxStopPct {
		return nil, RejectStopTooWide, nil
	}

	targets, reason := b.targets(entry, risk, dir, ltf)
	if reason != RejectNone {
		return nil, reason, nil
	}

	if b.cfg.MaxEntryDistancePct > 0 {
		dist := entry - currentPrice
		if dist < 0 {
			dist = -dist
		}
		if dist/currentPrice > b.cfg.MaxEntryDistancePct {
			return nil, RejectEntryTooFar, nil
		}
	}

	size, ok := b.sizer.Size(entry, stop, balance)
	if !ok {
		return nil, RejectNotionalTooSmall, nil
	}

	return &Setup{
		ID:           uuid.NewString(),
		ParentZoneID: zs.Zone.ID,
		Direction:    dir,
		Entry:        entry,
		Stop:         stop,
		Targets:      targets,
		Size:         size,
		MarketEntry:  marketEntry,
		CreatedAt:    now,
		ExpiryAt:     now.Add(time.Duration(b.cfg.ExpiryCandles) * b.ltfD),
		Status:       SetupPending,
	}, RejectNone, nil
}

// entryPrice resolves the entry level per the configured method.
func (b *Builder) entryPrice(zs *ZoneState, ltf market.Window, dir Direction) (float64, bool, RejectReason) {
	switch b.cfg.EntryMethod {
	case EntryHTFClose:
		return zs.TriggerPrice, true, RejectNone

	case EntryLTFBreakout:
		if dir == Long {
			return zs.TriggerPrice * (1 + b.cfg.BreakoutPct), false, RejectNone
		}
		return zs.TriggerPrice * (1 - b.cfg.BreakoutPct), false, RejectNone

	default: // EntryLTFZone
		conf := b.confirmingZone(ltf, dir)
		if conf == nil {
			return 0, false, RejectNoConfirmation
		}
		if dir == Long {
			return conf.Bottom, false, RejectNone
		}
		return conf.Top, false, RejectNone
	}
}

// confirmingZone scans the LTF lookback for the most recent zone of the
// type that confirms the trade direction: in rejected mode that is the
// opposite of the parent zone (a bearish LTF zone confirms a short), in
// held mode the same type. Both reduce to: longs want bullish LTF zones,
// shorts want bearish ones.
func (b *Builder) confirmingZone(ltf market.Window, dir Direction) *Zone {
	want := ZoneBullish
	if dir == Short {
		want = ZoneBearish
	}
	lookback := b.cfg.LTFLookback
	if lookback <= 0 {
		lookback = 10
	}
	win := ltf.Last(lookback)

	// Newest match wins.
	for i := win.Len() - 1; i >= 2; i-- {
		if z, ok := fvgAt(win, i); ok && z.Type == want {
			return &z
		}
	}
	return nil
}

// stopPrice derives the stop from the extremes recorded inside the zone.
func (b *Builder) stopPrice(zs *ZoneState, dir Direction) (float64, RejectReason, error) {
	if !zs.HasExtremes() {
		// Held-mode zones always have extremes (the trigger candle
		// closed inside); fall back to the zone boundary for safety.
		if b.cfg.Mode == TriggerHeld {
			if dir == Long {
				return zs.Zone.Bottom * (1 - b.cfg.StopBufferPct), RejectNone, nil
			}
			return zs.Zone.Top * (1 + b.cfg.StopBufferPct), RejectNone, nil
		}
		return 0, RejectNoExtremes, nil
	}
	if dir == Short {
		return zs.MaxHighTouched * (1 + b.cfg.StopBufferPct), RejectNone, nil
	}
	return zs.MinLowTouched * (1 - b.cfg.StopBufferPct), RejectNone, nil
}

// targets builds the take-profit schedule.
func (b *Builder) targets(entry, risk float64, dir Direction, ltf market.Window) ([]TargetTier, RejectReason) {
	if b.cfg.TargetMethod == TargetLiquidity {
		level, ok := findLiquidity(ltf, dir)
		if !ok {
			return nil, RejectNoLiquidity
		}
		rr := (level - entry) * dir.Sign() / risk
		if rr < b.cfg.MinRR {
			return nil, RejectRRTooLow
		}
		if b.cfg.MaxRR > 0 && rr > b.cfg.MaxRR {
			level = entry + dir.Sign()*risk*b.cfg.MaxRR
		}
		return []TargetTier{{Price: level, CloseFraction: 1.0}}, RejectNone
	}

	tiers := make([]TargetTier, 0, len(b.cfg.TierRRs))
	for _, t := range b.cfg.TierRRs {
		tiers = append(tiers, TargetTier{
			Price:         entry + dir.Sign()*risk*t.RR,
			CloseFraction: t.Fraction,
		})
	}
	return tiers, RejectNone
}

// findLiquidity returns the nearest swing high (longs) or swing low
// (shorts) in the window, nudged slightly inside the level so resting
// liquidity is reached before the exact extreme.
func findLiquidity(w market.Window, dir Direction) (float64, bool) {
	const wing = 2
	for i := w.Len() - 1 - wing; i >= wing; i-- {
		if dir == Long {
			if isSwingHigh(w, i, wing) {
				return w.At(i).High * 0.999, true
			}
		} else {
			if isSwingLow(w, i, wing) {
				return w.At(i).Low * 1.001, true
			}
		}
	}
	return 0, false
}
