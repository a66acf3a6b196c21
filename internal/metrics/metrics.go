package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fvg-trade-bot-go/internal/strategy"
)

// Collector translates strategy events into Prometheus series:
//
//	bot_zones_total{symbol,kind}           – zone lifecycle events
//	bot_setups_total{symbol,outcome}       – setups created/filled/expired
//	bot_setup_rejections_total{symbol,reason} – rejections by constraint
//	bot_trades_total{symbol,result}        – closed trades by win/loss
//	bot_exit_reasons_total{symbol,reason}  – exits by reason
//	bot_equity_usd{symbol}                 – balance after the latest close
//	bot_halted{symbol}                     – 1 once a guard rail fires
type Collector struct {
	zones      *prometheus.CounterVec
	setups     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	trades     *prometheus.CounterVec
	exits      *prometheus.CounterVec
	equity     *prometheus.GaugeVec
	halted     *prometheus.GaugeVec
	symbol     string
}

var _ strategy.Observer = (*Collector)(nil)

// NewCollector registers the bot metrics on the given registerer and
// returns an observer feeding them. Pass prometheus.DefaultRegisterer in
// production; tests use their own registry.
func NewCollector(reg prometheus.Registerer, symbol string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		symbol: symbol,
		zones: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_zones_total",
			Help: "Zone lifecycle events (formed/entered/triggered/invalidated)",
		}, []string{"symbol", "kind"}),
		setups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_setups_total",
			Help: "Setups by outcome (created/filled/expired)",
		}, []string{"symbol", "outcome"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_setup_rejections_total",
			Help: "Setup rejections by constraint",
		}, []string{"symbol", "reason"}),
		trades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed trades by result (win|loss)",
		}, []string{"symbol", "result"}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Final exits by reason",
		}, []string{"symbol", "reason"}),
		equity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Account balance after the latest closed trade",
		}, []string{"symbol"}),
		halted: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_halted",
			Help: "1 once an emergency guard rail has halted the instance",
		}, []string{"symbol"}),
	}
}

// Observe implements strategy.Observer.
func (c *Collector) Observe(e strategy.Event) {
	switch e.Kind {
	case strategy.EventZoneFormed:
		c.zones.WithLabelValues(c.symbol, "formed").Inc()
	case strategy.EventZoneEntered:
		c.zones.WithLabelValues(c.symbol, "entered").Inc()
	case strategy.EventZoneTriggered:
		c.zones.WithLabelValues(c.symbol, "triggered").Inc()
	case strategy.EventZoneInvalidated:
		c.zones.WithLabelValues(c.symbol, "invalidated").Inc()
	case strategy.EventSetupCreated:
		c.setups.WithLabelValues(c.symbol, "created").Inc()
	case strategy.EventSetupFilled:
		c.setups.WithLabelValues(c.symbol, "filled").Inc()
	case strategy.EventSetupExpired:
		c.setups.WithLabelValues(c.symbol, "expired").Inc()
	case strategy.EventSetupRejected:
		c.rejections.WithLabelValues(c.symbol, string(e.Reason)).Inc()
	case strategy.EventTradeClosed:
		result := "win"
		if e.Position != nil && e.Position.PnL() < 0 {
			result = "loss"
		}
		c.trades.WithLabelValues(c.symbol, result).Inc()
		if e.Position != nil {
			if final, ok := e.Position.FinalExit(); ok {
				c.exits.WithLabelValues(c.symbol, string(final.Reason)).Inc()
			}
		}
		c.equity.WithLabelValues(c.symbol).Set(e.Balance)
	case strategy.EventHalted:
		c.halted.WithLabelValues(c.symbol).Set(1)
	}
}

// SetEquity updates the equity gauge outside the event stream, e.g. on
// startup after restoring a snapshot.
func (c *Collector) SetEquity(balance float64) {
	c.equity.WithLabelValues(c.symbol).Set(balance)
}
