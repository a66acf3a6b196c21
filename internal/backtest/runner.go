package backtest

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/market"
	"fvg-trade-bot-go/internal/strategy"
)

// Result is the aggregate outcome of one backtest run.
type Result struct {
	InitialBalance float64            `json:"initial_balance"`
	FinalBalance   float64            `json:"final_balance"`
	Trades         int                `json:"trades"`
	Wins           int                `json:"wins"`
	Losses         int                `json:"losses"`
	TotalPnL       float64            `json:"total_pnl"`
	TotalFees      float64            `json:"total_fees"`
	MaxDrawdownPct float64            `json:"max_drawdown_pct"`
	ZonesFormed    int                `json:"zones_formed"`
	ZonesTriggered int                `json:"zones_triggered"`
	SetupsCreated  int                `json:"setups_created"`
	SetupsExpired  int                `json:"setups_expired"`
	Rejections     map[string]int     `json:"rejections"`
	Halted         bool               `json:"halted"`
	OpenAtEnd      bool               `json:"open_at_end"`
}

// WinRate returns wins over closed trades, 0 with no trades.
func (r *Result) WinRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades)
}

// collector accumulates result statistics from the event stream.
type collector struct {
	res  *Result
	peak float64
}

var _ strategy.Observer = (*collector)(nil)

func (c *collector) Observe(e strategy.Event) {
	switch e.Kind {
	case strategy.EventZoneFormed:
		c.res.ZonesFormed++
	case strategy.EventZoneTriggered:
		c.res.ZonesTriggered++
	case strategy.EventSetupCreated:
		c.res.SetupsCreated++
	case strategy.EventSetupExpired:
		c.res.SetupsExpired++
	case strategy.EventSetupRejected:
		c.res.Rejections[string(e.Reason)]++
	case strategy.EventTradeClosed:
		c.res.Trades++
		if e.Position != nil {
			pnl := e.Position.PnL()
			c.res.TotalPnL += pnl
			c.res.TotalFees += e.Position.Fees()
			if pnl >= 0 {
				c.res.Wins++
			} else {
				c.res.Losses++
			}
		}
		if e.Balance > c.peak {
			c.peak = e.Balance
		}
		if c.peak > 0 {
			dd := (c.peak - e.Balance) / c.peak * 100
			if dd > c.res.MaxDrawdownPct {
				c.res.MaxDrawdownPct = dd
			}
		}
	case strategy.EventHalted:
		c.res.Halted = true
	}
}

// Runner replays historical candles through a strategy instance with
// simulated execution. The instance code is identical to live trading;
// only the executor and the candle source differ.
type Runner struct {
	cfg     strategy.InstanceConfig
	sizer   *strategy.RiskSizer
	balance float64
	logger  *zap.Logger
	obs     strategy.Observer // extra observer, e.g. a journal
}

// NewRunner builds a backtest runner. obs may be nil.
func NewRunner(cfg strategy.InstanceConfig, sizer *strategy.RiskSizer, balance float64, obs strategy.Observer, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, sizer: sizer, balance: balance, logger: logger, obs: obs}
}

// Run replays the candle history in close-time order. Both slices must
// be sorted ascending by close time; at equal close times the LTF candle
// is processed first, so triggers decided on an HTF close can only act
// from the next LTF close on.
func (r *Runner) Run(htf, ltf []market.Candle) (*Result, error) {
	res := &Result{
		InitialBalance: r.balance,
		Rejections:     make(map[string]int),
	}
	col := &collector{res: res, peak: r.balance}

	exec := NewSimExecutor()
	inst, err := strategy.NewInstance(r.cfg, exec, r.sizer,
		r.balance, strategy.MultiObserver(col, r.obs), r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build instance: %w", err)
	}

	hi, li := 0, 0
	var lastClose time.Time
	for hi < len(htf) || li < len(ltf) {
		useLTF := hi >= len(htf) ||
			(li < len(ltf) && !ltf[li].CloseTime.After(htf[hi].CloseTime))

		var c market.Candle
		if useLTF {
			c = ltf[li]
			li++
		} else {
			c = htf[hi]
			hi++
		}
		if c.CloseTime.Before(lastClose) {
			return nil, fmt.Errorf("candles out of order at %s", c.CloseTime)
		}
		lastClose = c.CloseTime
		now := c.CloseTime

		if useLTF {
			exec.OnCandle(c)
			err = inst.OnLTFClose(c, now)
		} else {
			err = inst.OnHTFClose(c, now)
		}
		if err != nil {
			return nil, fmt.Errorf("replay failed at %s: %w", c.CloseTime, err)
		}
		if inst.Halted() {
			break
		}
	}

	if err := inst.Shutdown(); err != nil {
		r.logger.Warn("shutdown after replay failed", zap.Error(err))
	}

	res.FinalBalance = inst.Balance()
	res.OpenAtEnd = inst.OpenPosition() != nil
	return res, nil
}

// Log prints the result summary through the runner's logger.
func (r *Runner) Log(res *Result) {
	r.logger.Info("backtest complete",
		zap.Float64("initial_balance", res.InitialBalance),
		zap.Float64("final_balance", res.FinalBalance),
		zap.Int("trades", res.Trades),
		zap.Int("wins", res.Wins),
		zap.Int("losses", res.Losses),
		zap.Float64("win_rate", res.WinRate()),
		zap.Float64("total_pnl", res.TotalPnL),
		zap.Float64("total_fees", res.TotalFees),
		zap.Float64("max_drawdown_pct", res.MaxDrawdownPct),
		zap.Int("zones_formed", res.ZonesFormed),
		zap.Int("zones_triggered", res.ZonesTriggered),
		zap.Int("setups_created", res.SetupsCreated),
		zap.Int("setups_expired", res.SetupsExpired),
		zap.Any("rejections", res.Rejections),
		zap.Bool("halted", res.Halted),
	)
}
