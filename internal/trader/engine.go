package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fvg-trade-bot-go/internal/backtest"
	"fvg-trade-bot-go/internal/binance"
	"fvg-trade-bot-go/internal/config"
	"fvg-trade-bot-go/internal/market"
	"fvg-trade-bot-go/internal/statestore"
	"fvg-trade-bot-go/internal/strategy"
)

// Engine is the live trading loop: it feeds closed exchange candles into
// the strategy instance, mirrors the instance's exits onto the exchange
// and persists state after every cycle. The strategy code it drives is
// exactly the code the backtester drives.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	restClient binance.RestClientInterface
	db         *gorm.DB
	store      *statestore.Store

	instance *strategy.Instance
	sim      *backtest.SimExecutor // non-nil in dry-run mode

	htf, ltf string
	lastHTF  time.Time // close time of the last processed HTF candle
	lastLTF  time.Time

	mirroredExits int
	curTradeID    string

	StartTime time.Time
}

// NewEngine creates a new trading engine. Extra observers (journal,
// metrics) are fanned in through obs; it may be nil.
func NewEngine(logger *zap.Logger, cfg *config.Config, restClient binance.RestClientInterface, db *gorm.DB, obs strategy.Observer) (*Engine, error) {
	e := &Engine{
		logger:     logger,
		cfg:        cfg,
		restClient: restClient,
		db:         db,
		store:      statestore.NewStore(db),
		htf:        cfg.Strategy.HTF,
		ltf:        cfg.Strategy.LTF,
		StartTime:  time.Now(),
	}

	sizer := cfg.RiskSizer()
	if err := e.applyExchangeRules(sizer); err != nil {
		// Exchange rules are a refinement; config values still apply.
		logger.Warn("Failed to fetch exchange rules, using configured sizing limits", zap.Error(err))
	}

	var exec strategy.OrderExecutor
	var balance float64
	if cfg.Strategy.DryRun {
		logger.Warn("Dry run enabled. No real orders will be placed.")
		e.sim = backtest.NewSimExecutor()
		exec = e.sim
		balance = cfg.Risk.PaperBalance
	} else {
		exec = NewLiveExecutor(restClient, cfg.Strategy.Symbol, logger)
		free, err := restClient.GetBalance(cfg.Strategy.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch starting balance: %w", err)
		}
		balance = free
	}
	logger.Info("Starting balance resolved",
		zap.String("asset", cfg.Strategy.QuoteAsset),
		zap.Float64("balance", balance))

	observer := strategy.MultiObserver(obs, &exitMirror{engine: e})
	inst, err := strategy.NewInstance(cfg.InstanceConfig(), exec, sizer, balance, observer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy instance: %w", err)
	}
	e.instance = inst
	return e, nil
}

// applyExchangeRules fills sizing limits the config left at zero from
// the exchange's own filters.
func (e *Engine) applyExchangeRules(sizer *strategy.RiskSizer) error {
	info, err := e.restClient.GetExchangeInfo()
	if err != nil {
		return err
	}
	step, minQty, minNotional := info.LotRules(e.cfg.Strategy.Symbol)
	if sizer.LotStep == 0 {
		sizer.LotStep = step
	}
	if sizer.MinQty == 0 {
		sizer.MinQty = minQty
	}
	if sizer.MinNotional == 0 {
		sizer.MinNotional = minNotional
	}
	e.logger.Info("Exchange sizing rules applied",
		zap.String("symbol", e.cfg.Strategy.Symbol),
		zap.Float64("lot_step", sizer.LotStep),
		zap.Float64("min_qty", sizer.MinQty),
		zap.Float64("min_notional", sizer.MinNotional))
	return nil
}

// Instance exposes the strategy state for the status API.
func (e *Engine) Instance() *strategy.Instance { return e.instance }

// Run starts the trading engine's main loop and blocks until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Initializing trading engine...")
	if err := e.initialize(ctx); err != nil {
		e.logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	e.logger.Info("Engine initialized successfully.")

	if e.cfg.Binance.UseWebsocket {
		e.runStream(ctx)
	} else {
		e.runPolling(ctx)
	}

	e.shutdown()
}

// initialize restores persisted state and replays recent history so the
// zone tracker is warm before the first live candle.
func (e *Engine) initialize(ctx context.Context) error {
	var since time.Time

	snap, err := e.store.Load(e.cfg.Strategy.Symbol)
	switch {
	case err == nil:
		e.instance.Restore(snap)
		since = snap.LastUpdated
		e.logger.Info("Restored state snapshot",
			zap.Time("taken", snap.LastUpdated),
			zap.Float64("balance", snap.Balance),
			zap.Int("active_zones", len(snap.Active)),
			zap.Int("triggered_zones", len(snap.Triggered)))
	case errors.Is(err, statestore.ErrNotFound):
		e.logger.Info("No state snapshot found, starting fresh")
	default:
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	return e.warmUp(ctx, since)
}

// warmUp replays closed historical candles through the instance without
// placing orders. With a restored snapshot only the gap since the
// snapshot is replayed.
func (e *Engine) warmUp(ctx context.Context, since time.Time) error {
	s := e.cfg.Strategy
	htf, err := e.fetchClosed(s.HTF, s.HTFHistory)
	if err != nil {
		return fmt.Errorf("failed to fetch HTF history: %w", err)
	}
	ltf, err := e.fetchClosed(s.LTF, s.LTFHistory)
	if err != nil {
		return fmt.Errorf("failed to fetch LTF history: %w", err)
	}

	e.instance.SetWarmup(true)
	defer e.instance.SetWarmup(false)

	hi, li, fed := 0, 0, 0
	for hi < len(htf) || li < len(ltf) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		useLTF := hi >= len(htf) ||
			(li < len(ltf) && !ltf[li].CloseTime.After(htf[hi].CloseTime))

		if useLTF {
			c := ltf[li]
			li++
			if !c.CloseTime.After(since) {
				continue
			}
			if e.sim != nil {
				e.sim.OnCandle(c)
			}
			if err := e.instance.OnLTFClose(c, time.Now()); err != nil {
				return fmt.Errorf("warm-up LTF replay failed: %w", err)
			}
			e.lastLTF = c.CloseTime
		} else {
			c := htf[hi]
			hi++
			if !c.CloseTime.After(since) {
				continue
			}
			if err := e.instance.OnHTFClose(c, time.Now()); err != nil {
				return fmt.Errorf("warm-up HTF replay failed: %w", err)
			}
			e.lastHTF = c.CloseTime
		}
		fed++
	}

	e.logger.Info("Warm-up complete",
		zap.Int("candles_fed", fed),
		zap.Int("active_zones", e.instance.ActiveZoneCount()),
		zap.Int("triggered_zones", e.instance.TriggeredZoneCount()))
	return e.saveSnapshot()
}

// fetchClosed returns up to limit fully closed candles, oldest first.
// The exchange includes the in-progress candle as the last row; it is
// dropped so the strategy never sees an unfinished bar.
func (e *Engine) fetchClosed(tf string, limit int) ([]market.Candle, error) {
	candles, err := e.restClient.GetKlines(e.cfg.Strategy.Symbol, market.Timeframe(tf), limit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for len(candles) > 0 && !candles[len(candles)-1].ClosedBy(now) {
		candles = candles[:len(candles)-1]
	}
	return candles, nil
}

// runPolling drives the instance from periodic REST kline fetches.
func (e *Engine) runPolling(ctx context.Context) {
	interval := time.Duration(e.cfg.Strategy.TickInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting polling loop", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return
		case <-ticker.C:
			if err := e.poll(); err != nil {
				e.logger.Error("Poll cycle failed", zap.Error(err))
			}
			if e.instance.Halted() {
				e.logger.Error("Instance halted, stopping engine")
				return
			}
		}
	}
}

// poll fetches the newest closed candles and advances the instance. LTF
// candles are processed before an HTF candle with the same close time,
// so a trigger decided on an HTF close only acts from the next LTF
// close on.
func (e *Engine) poll() error {
	ltf, err := e.fetchClosed(e.ltf, 5)
	if err != nil {
		return fmt.Errorf("failed to fetch LTF candles: %w", err)
	}
	htf, err := e.fetchClosed(e.htf, 3)
	if err != nil {
		return fmt.Errorf("failed to fetch HTF candles: %w", err)
	}

	changed := false
	for _, c := range ltf {
		if !c.CloseTime.After(e.lastLTF) {
			continue
		}
		if err := e.feedLTF(c); err != nil {
			return err
		}
		changed = true
	}
	for _, c := range htf {
		if !c.CloseTime.After(e.lastHTF) {
			continue
		}
		if err := e.feedHTF(c); err != nil {
			return err
		}
		changed = true
	}

	if changed {
		return e.saveSnapshot()
	}
	return nil
}

func (e *Engine) feedLTF(c market.Candle) error {
	if e.sim != nil {
		e.sim.OnCandle(c)
	}
	if err := e.instance.OnLTFClose(c, time.Now()); err != nil {
		return fmt.Errorf("LTF close processing failed: %w", err)
	}
	e.lastLTF = c.CloseTime
	e.mirrorOpenExits()
	return nil
}

func (e *Engine) feedHTF(c market.Candle) error {
	if err := e.instance.OnHTFClose(c, time.Now()); err != nil {
		return fmt.Errorf("HTF close processing failed: %w", err)
	}
	e.lastHTF = c.CloseTime
	e.mirrorOpenExits()
	return nil
}

// runStream drives the instance from the kline websocket. HTF candles
// that close together with an LTF candle are held until that LTF candle
// has been processed, keeping stream runs ordered like polling runs.
func (e *Engine) runStream(ctx context.Context) {
	ws := binance.NewWSClient(e.cfg.Strategy.Symbol,
		[]market.Timeframe{market.Timeframe(e.htf), market.Timeframe(e.ltf)},
		e.cfg.Binance.Testnet, e.logger)
	go ws.Run(ctx)

	e.logger.Info("Starting stream loop")
	var heldHTF []market.Candle

	flushHeld := func() {
		var keep []market.Candle
		for _, c := range heldHTF {
			if !c.CloseTime.After(e.lastLTF) {
				if err := e.feedHTF(c); err != nil {
					e.logger.Error("Stream HTF processing failed", zap.Error(err))
				}
			} else {
				keep = append(keep, c)
			}
		}
		heldHTF = keep
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return
		case ev, ok := <-ws.Events:
			if !ok {
				e.logger.Error("Websocket event channel closed")
				return
			}
			switch string(ev.Timeframe) {
			case e.ltf:
				if ev.Candle.CloseTime.After(e.lastLTF) {
					if err := e.feedLTF(ev.Candle); err != nil {
						e.logger.Error("Stream LTF processing failed", zap.Error(err))
					}
					flushHeld()
				}
			case e.htf:
				if ev.Candle.CloseTime.After(e.lastHTF) {
					heldHTF = append(heldHTF, ev.Candle)
					flushHeld()
				}
			}
			if err := e.saveSnapshot(); err != nil {
				e.logger.Error("Snapshot save failed", zap.Error(err))
			}
			if e.instance.Halted() {
				e.logger.Error("Instance halted, stopping engine")
				return
			}
		}
	}
}

// mirrorOpenExits places market orders for partial exits the strategy
// recorded on the still-open position. Closed positions are mirrored by
// the exitMirror observer before they are detached.
func (e *Engine) mirrorOpenExits() {
	p := e.instance.OpenPosition()
	if p == nil {
		return
	}
	if p.TradeID != e.curTradeID {
		e.curTradeID = p.TradeID
		e.mirroredExits = 0
	}
	e.mirrorExits(p)
}

// mirrorExits realizes exits [mirroredExits:] of the position on the
// exchange. A dry run skips the exchange call.
func (e *Engine) mirrorExits(p *strategy.Position) {
	for ; e.mirroredExits < len(p.Exits); e.mirroredExits++ {
		exit := p.Exits[e.mirroredExits]
		l := e.logger.With(
			zap.String("trade", p.TradeID),
			zap.String("reason", string(exit.Reason)),
			zap.Float64("size", exit.Size),
			zap.Float64("price", exit.Price))

		if e.cfg.Strategy.DryRun {
			l.Info("Dry run: exit recorded, no order placed")
			continue
		}
		side := binance.OrderSideSell
		if p.Direction == strategy.Short {
			side = binance.OrderSideBuy
		}
		if _, err := e.restClient.PlaceMarketOrder(e.cfg.Strategy.Symbol, side, exit.Size); err != nil {
			l.Error("Failed to mirror exit on exchange", zap.Error(err))
			continue
		}
		l.Info("Exit mirrored on exchange")
	}
}

// exitMirror catches trade-closed events so the final exits of a
// position are mirrored before the instance forgets it.
type exitMirror struct {
	engine *Engine
}

func (m *exitMirror) Observe(ev strategy.Event) {
	if ev.Kind != strategy.EventTradeClosed || ev.Position == nil {
		return
	}
	e := m.engine
	if ev.Position.TradeID != e.curTradeID {
		e.curTradeID = ev.Position.TradeID
		e.mirroredExits = 0
	}
	e.mirrorExits(ev.Position)
	e.curTradeID = ""
	e.mirroredExits = 0
}

func (e *Engine) saveSnapshot() error {
	if err := e.store.Save(e.instance.Snapshot(time.Now())); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}

// shutdown cancels the resting order (if any) and writes a final
// snapshot. The open position, if any, is intentionally left running.
func (e *Engine) shutdown() {
	if err := e.instance.Shutdown(); err != nil {
		e.logger.Error("Instance shutdown failed", zap.Error(err))
	}
	if err := e.saveSnapshot(); err != nil {
		e.logger.Error("Final snapshot save failed", zap.Error(err))
	}
	e.logger.Info("Engine stopped",
		zap.Float64("balance", e.instance.Balance()),
		zap.Int("trades_closed", e.instance.TradesClosed()))
}
