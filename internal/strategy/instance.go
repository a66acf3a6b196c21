package strategy

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/market"
)

// Invariant violations. These mean a logic bug, not a transient
// condition: the instance halts new order placement when one surfaces.
var (
	// ErrLookahead is returned when a decision would read a candle that
	// has not closed yet.
	ErrLookahead = errors.New("lookahead: candle not closed at decision time")
	// ErrPositionOpen is returned when a second concurrent position
	// would be opened.
	ErrPositionOpen = errors.New("position already open")
)

// EventKind labels an instance event.
type EventKind string

const (
	EventZoneFormed      EventKind = "ZONE_FORMED"
	EventZoneEntered     EventKind = "ZONE_ENTERED"
	EventZoneTriggered   EventKind = "ZONE_TRIGGERED"
	EventZoneInvalidated EventKind = "ZONE_INVALIDATED"
	EventSetupCreated    EventKind = "SETUP_CREATED"
	EventSetupRejected   EventKind = "SETUP_REJECTED"
	EventSetupFilled     EventKind = "SETUP_FILLED"
	EventSetupExpired    EventKind = "SETUP_EXPIRED"
	EventTradeClosed     EventKind = "TRADE_CLOSED"
	EventHalted          EventKind = "HALTED"
)

// Event is a notification about a state transition, consumed by the
// journal and the metrics layer.
type Event struct {
	Kind      EventKind
	At        time.Time
	Zone      *Zone
	Trigger   TriggerState
	Direction Direction
	Setup     *Setup
	Reason    RejectReason
	Position  *Position
	Balance   float64
}

// Observer receives instance events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// NopObserver discards events.
type NopObserver struct{}

func (NopObserver) Observe(Event) {}

// multiObserver fans one event out to several observers.
type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// MultiObserver combines observers; nil entries are skipped.
func MultiObserver(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return NopObserver{}
	}
	return out
}

// InstanceConfig is the resolved per-strategy configuration. All string
// knobs are parsed into enums once at startup; nothing is re-parsed per
// decision.
type InstanceConfig struct {
	Symbol   string
	HTF, LTF market.Timeframe

	Detector Detector
	Mode     TriggerMode
	Builder  BuilderConfig
	Fees     FeeSchedule

	CooldownCandles   int // LTF candles added after expiry
	CooldownAfterStop bool
	HTFHistory        int // retained HTF candles (0 = unbounded)
	LTFHistory        int
	MaxTrackedZones   int

	// Emergency guard rails; zero disables a check.
	MaxDrawdownPct       float64
	MaxDailyLossPct      float64 // realized loss within one UTC day
	MaxConsecutiveLosses int
}

// Instance is one symbol's complete strategy state: candle stores, zone
// sets, the pending setup and the open position. All mutation happens in
// the OnHTFClose / OnLTFClose transition methods, which makes a run
// deterministic and replayable. An instance is single-threaded by
// contract; runners serialize calls into it.
type Instance struct {
	cfg InstanceConfig
	log *zap.Logger
	obs Observer

	htf *market.Series
	ltf *market.Series

	tracker   Tracker
	builder   *Builder
	posMgr    Manager
	lifecycle *Lifecycle

	seenZones map[string]struct{}
	active    []*ZoneState // formed, not yet triggered
	triggered []*ZoneState // armed, awaiting setup/fill

	pending *pendingOrder
	open    *Position

	balance           float64
	initialBalance    float64
	consecLosses      int
	tradesClosed      int
	stopCooldownUntil time.Time

	dayStart        time.Time // UTC midnight anchoring dayStartBalance
	dayStartBalance float64

	halted bool
	warmup bool
}

// NewInstance wires a strategy instance around an order executor.
func NewInstance(cfg InstanceConfig, exec OrderExecutor, sizer *RiskSizer, balance float64, obs Observer, log *zap.Logger) (*Instance, error) {
	ltfD, err := cfg.LTF.Duration()
	if err != nil {
		return nil, err
	}
	if _, err := cfg.HTF.Duration(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}
	cooldown := time.Duration(cfg.CooldownCandles) * ltfD
	return &Instance{
		cfg:            cfg,
		log:            log,
		obs:            obs,
		htf:            market.NewSeries(cfg.HTF, cfg.HTFHistory),
		ltf:            market.NewSeries(cfg.LTF, cfg.LTFHistory),
		tracker:        Tracker{Mode: cfg.Mode},
		builder:        NewBuilder(cfg.Builder, sizer, ltfD),
		posMgr:         Manager{Fees: cfg.Fees},
		lifecycle:      NewLifecycle(exec, cooldown),
		seenZones:      make(map[string]struct{}),
		balance:        balance,
		initialBalance: balance,
	}, nil
}

// Balance returns current account balance.
func (in *Instance) Balance() float64 { return in.balance }

// Halted reports whether guard rails or an invariant violation stopped
// new order placement.
func (in *Instance) Halted() bool { return in.halted }

// SetWarmup toggles warm-up mode. During warm-up historical candles
// rebuild zone and tracker state but no new setups are submitted;
// pending-order reconciliation still runs so a restart picks up fills
// that happened while the process was down.
func (in *Instance) SetWarmup(on bool) { in.warmup = on }

// OpenPosition returns the open trade, or nil.
func (in *Instance) OpenPosition() *Position { return in.open }

// PendingSetup returns the unfilled submitted setup, or nil.
func (in *Instance) PendingSetup() *Setup {
	if in.pending == nil {
		return nil
	}
	return in.pending.setup
}

// ActiveZoneCount and TriggeredZoneCount expose tracking stats.
func (in *Instance) ActiveZoneCount() int    { return len(in.active) }
func (in *Instance) TriggeredZoneCount() int { return len(in.triggered) }

// OnHTFClose processes one newly closed higher-timeframe candle:
// detection of fresh zones, tracker updates for active zones,
// invalidation sweeps for armed zones, and the opposing-trigger
// invalidation exit for an open position.
func (in *Instance) OnHTFClose(c market.Candle, now time.Time) error {
	if !c.ClosedBy(now) {
		in.halt("lookahead on HTF candle", c.CloseTime)
		return ErrLookahead
	}
	if err := in.htf.Append(c); err != nil {
		// Data error: skip this cycle, never fabricate.
		in.log.Warn("skipping bad HTF candle", zap.Error(err))
		return nil
	}

	w := in.htf.ClosedAt(now)

	// New zones formed by this close.
	for _, z := range in.cfg.Detector.Detect(w) {
		if _, dup := in.seenZones[z.Key()]; dup {
			continue
		}
		in.seenZones[z.Key()] = struct{}{}
		in.active = append(in.active, NewZoneState(z))
		in.emit(Event{Kind: EventZoneFormed, At: c.CloseTime, Zone: &z})
		in.log.Info("zone formed",
			zap.String("zone", z.ID),
			zap.String("type", string(z.Type)),
			zap.Float64("top", z.Top),
			zap.Float64("bottom", z.Bottom))
	}
	in.pruneZones()

	// Advance active zones. The candle that formed a zone never updates
	// that same zone.
	var stillActive []*ZoneState
	var newTriggers []*ZoneState
	for _, zs := range in.active {
		if zs.Zone.FormedAt.Equal(c.CloseTime) {
			stillActive = append(stillActive, zs)
			continue
		}
		tr := in.tracker.Update(zs, c)
		if tr != nil {
			in.emitTransition(tr)
		}
		switch {
		case zs.Invalidated:
			// dropped
		case zs.Trigger != TriggerNone:
			in.triggered = append(in.triggered, zs)
			newTriggers = append(newTriggers, zs)
		default:
			stillActive = append(stillActive, zs)
		}
	}
	in.active = stillActive

	in.sweepTriggered(c)

	// Opposing-trigger invalidation exit: highest-priority exit rule.
	if in.open != nil {
		for _, zs := range newTriggers {
			if zs.Direction(in.cfg.Mode) != in.open.Direction {
				in.log.Warn("opposing zone trigger, closing position",
					zap.String("zone", zs.Zone.ID),
					zap.String("position", in.open.TradeID))
				in.posMgr.Evaluate(in.open, c, true)
				in.finalizeTrade(c.CloseTime)
				break
			}
		}
	}
	return nil
}

// OnLTFClose processes one newly closed lower-timeframe candle: pending
// order poll, position management, armed-zone invalidation sweeps and
// setup building.
func (in *Instance) OnLTFClose(c market.Candle, now time.Time) error {
	if !c.ClosedBy(now) {
		in.halt("lookahead on LTF candle", c.CloseTime)
		return ErrLookahead
	}
	if err := in.ltf.Append(c); err != nil {
		in.log.Warn("skipping bad LTF candle", zap.Error(err))
		return nil
	}

	if err := in.pollPending(now); err != nil {
		return err
	}

	if in.open != nil {
		if done := in.posMgr.Evaluate(in.open, c, false); done {
			in.finalizeTrade(c.CloseTime)
		}
	}

	in.sweepTriggered(c)

	return in.buildSetups(c, now)
}

// pollPending reconciles the resting order with the backend.
func (in *Instance) pollPending(now time.Time) error {
	if in.pending == nil {
		return nil
	}
	zs := in.zoneByID(in.pending.zoneID)
	if zs == nil {
		// Zone vanished (invalidated); order was cancelled there.
		in.pending = nil
		return nil
	}
	res, err := in.lifecycle.Poll(in.pending, zs, now)
	if err != nil {
		// External I/O failure: abandon this cycle, retry next tick.
		in.log.Error("order poll failed", zap.Error(err))
		return nil
	}
	switch {
	case res.Filled:
		return in.onFill(zs, res)
	case res.Expired:
		in.emit(Event{Kind: EventSetupExpired, At: now, Setup: in.pending.setup, Zone: &zs.Zone})
		in.log.Info("setup expired",
			zap.String("setup", in.pending.setup.ID),
			zap.String("zone", zs.Zone.ID),
			zap.Time("cooldown_until", zs.CooldownUntil))
		in.pending = nil
	}
	return nil
}

func (in *Instance) onFill(zs *ZoneState, res PollResult) error {
	s := in.pending.setup
	in.pending = nil
	if in.open != nil {
		in.halt("second concurrent position", res.FillTime)
		return ErrPositionOpen
	}
	in.open = in.posMgr.Open(s, res.FillPrice, res.FillTime)
	in.removeTriggered(zs.Zone.ID)
	in.emit(Event{Kind: EventSetupFilled, At: res.FillTime, Setup: s, Zone: &zs.Zone, Position: in.open})
	in.log.Info("setup filled",
		zap.String("setup", s.ID),
		zap.String("direction", string(s.Direction)),
		zap.Float64("fill", res.FillPrice),
		zap.Float64("size", s.Size))
	return nil
}

// sweepTriggered applies post-trigger invalidation to armed zones and
// cancels the resting order of a zone that dies while pending.
func (in *Instance) sweepTriggered(c market.Candle) {
	var alive []*ZoneState
	for _, zs := range in.triggered {
		if tr := in.tracker.CheckInvalidation(zs, c); tr != nil {
			in.emitTransition(tr)
			if in.pending != nil && in.pending.zoneID == zs.Zone.ID {
				if err := in.lifecycle.CancelOutstanding(in.pending, zs); err != nil {
					in.log.Error("cancel after zone invalidation failed", zap.Error(err))
				}
				in.pending = nil
			}
			continue
		}
		alive = append(alive, zs)
	}
	in.triggered = alive
}

// buildSetups tries to arm one setup from the triggered zones.
func (in *Instance) buildSetups(c market.Candle, now time.Time) error {
	if in.halted || in.warmup || in.open != nil || in.pending != nil {
		return nil
	}
	if in.cfg.CooldownAfterStop && now.Before(in.stopCooldownUntil) {
		return nil
	}

	ltfWin := in.ltf.ClosedAt(now)
	for _, zs := range in.triggered {
		s, reason, err := in.builder.Build(zs, ltfWin, c.Close, in.balance, now)
		if err != nil {
			in.log.Error("setup build error", zap.String("zone", zs.Zone.ID), zap.Error(err))
			continue
		}
		if s == nil {
			if reason != RejectNone && reason != RejectPendingSetup && reason != RejectCooldown {
				in.emit(Event{Kind: EventSetupRejected, At: now, Zone: &zs.Zone, Reason: reason})
				in.log.Info("setup rejected",
					zap.String("zone", zs.Zone.ID),
					zap.String("reason", string(reason)))
			}
			continue
		}

		po, err := in.lifecycle.Submit(zs, s)
		if err != nil {
			in.log.Error("order submission failed", zap.String("setup", s.ID), zap.Error(err))
			continue
		}
		in.pending = po
		in.emit(Event{Kind: EventSetupCreated, At: now, Setup: s, Zone: &zs.Zone, Direction: s.Direction})
		in.log.Info("setup submitted",
			zap.String("setup", s.ID),
			zap.String("zone", zs.Zone.ID),
			zap.String("direction", string(s.Direction)),
			zap.Float64("entry", s.Entry),
			zap.Float64("stop", s.Stop),
			zap.Float64("size", s.Size))

		// Market entries fill on submit; adopt the position now.
		if s.MarketEntry && s.Status == SetupFilled {
			if err := in.pollPending(now); err != nil {
				return err
			}
		}
		// One setup in flight per instance.
		break
	}
	return nil
}

// finalizeTrade settles a fully closed position into the balance and the
// guard-rail counters.
func (in *Instance) finalizeTrade(at time.Time) {
	p := in.open
	in.open = nil
	in.rollDay(at)
	pnl := p.PnL()
	in.balance += pnl
	in.tradesClosed++

	final, _ := p.FinalExit()
	if pnl > 0 {
		in.consecLosses = 0
	} else {
		in.consecLosses++
	}
	if in.cfg.CooldownAfterStop && final.Reason == ExitStop {
		cooldown := in.lifecycle.cooldownWindow
		in.stopCooldownUntil = at.Add(cooldown)
	}

	in.emit(Event{Kind: EventTradeClosed, At: at, Position: p, Balance: in.balance})
	in.log.Info("trade closed",
		zap.String("trade", p.TradeID),
		zap.String("direction", string(p.Direction)),
		zap.String("reason", string(final.Reason)),
		zap.Float64("pnl", pnl),
		zap.Float64("balance", in.balance))

	in.checkGuardRails(at)
}

// rollDay re-anchors the daily-loss baseline at the first settlement of
// each UTC day. Called before the trade's PnL lands, so a day's first
// loss is measured against the balance the day opened with.
func (in *Instance) rollDay(at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	if !day.Equal(in.dayStart) {
		in.dayStart = day
		in.dayStartBalance = in.balance
	}
}

func (in *Instance) checkGuardRails(at time.Time) {
	if in.cfg.MaxDrawdownPct > 0 && in.initialBalance > 0 {
		dd := (in.initialBalance - in.balance) / in.initialBalance * 100
		if dd > in.cfg.MaxDrawdownPct {
			in.halt("max drawdown exceeded", at)
			return
		}
	}
	if in.cfg.MaxDailyLossPct > 0 && in.dayStartBalance > 0 {
		loss := (in.dayStartBalance - in.balance) / in.dayStartBalance * 100
		if loss > in.cfg.MaxDailyLossPct {
			in.halt("max daily loss exceeded", at)
			return
		}
	}
	if in.cfg.MaxConsecutiveLosses > 0 && in.consecLosses >= in.cfg.MaxConsecutiveLosses {
		in.halt("max consecutive losses reached", at)
	}
}

// halt stops new order placement. An open position is left for operator
// intervention; tracking continues so state stays coherent.
func (in *Instance) halt(why string, at time.Time) {
	if in.halted {
		return
	}
	in.halted = true
	in.log.Error("instance halted, no new orders will be placed", zap.String("why", why))
	in.emit(Event{Kind: EventHalted, At: at, Balance: in.balance})
}

// Shutdown cancels any outstanding resting order. An open position is
// intentionally left open.
func (in *Instance) Shutdown() error {
	if in.pending == nil {
		return nil
	}
	zs := in.zoneByID(in.pending.zoneID)
	if zs == nil {
		in.pending = nil
		return nil
	}
	err := in.lifecycle.CancelOutstanding(in.pending, zs)
	in.pending = nil
	if in.open != nil {
		in.log.Warn("shutting down with open position, leaving it open",
			zap.String("trade", in.open.TradeID))
	}
	return err
}

func (in *Instance) zoneByID(id string) *ZoneState {
	for _, zs := range in.triggered {
		if zs.Zone.ID == id {
			return zs
		}
	}
	for _, zs := range in.active {
		if zs.Zone.ID == id {
			return zs
		}
	}
	return nil
}

func (in *Instance) removeTriggered(id string) {
	for i, zs := range in.triggered {
		if zs.Zone.ID == id {
			in.triggered = append(in.triggered[:i], in.triggered[i+1:]...)
			return
		}
	}
}

// pruneZones caps tracked zones, dropping the oldest untriggered ones.
func (in *Instance) pruneZones() {
	max := in.cfg.MaxTrackedZones
	if max <= 0 || len(in.active) <= max {
		return
	}
	in.active = in.active[len(in.active)-max:]
}

func (in *Instance) emit(e Event) { in.obs.Observe(e) }

func (in *Instance) emitTransition(tr *Transition) {
	switch tr.Kind {
	case TransitionEntered:
		in.emit(Event{Kind: EventZoneEntered, At: tr.At, Zone: &tr.Zone})
	case TransitionTriggered:
		in.emit(Event{Kind: EventZoneTriggered, At: tr.At, Zone: &tr.Zone, Trigger: tr.State, Direction: tr.Direction})
		in.log.Info("zone triggered",
			zap.String("zone", tr.Zone.ID),
			zap.String("state", string(tr.State)),
			zap.String("direction", string(tr.Direction)),
			zap.Float64("price", tr.Price))
	case TransitionInvalidated:
		in.emit(Event{Kind: EventZoneInvalidated, At: tr.At, Zone: &tr.Zone})
		in.log.Info("zone invalidated",
			zap.String("zone", tr.Zone.ID),
			zap.Float64("price", tr.Price))
	}
}
