package backtest

import (
	"fmt"

	"github.com/google/uuid"

	"fvg-trade-bot-go/internal/market"
	"fvg-trade-bot-go/internal/strategy"
)

// simOrder is one resting limit order inside the simulator.
type simOrder struct {
	setup *strategy.Setup
	state strategy.OrderState
}

// SimExecutor fills orders against candle ranges: a resting limit fills
// when a later candle trades through its price. Fills are at the limit
// price exactly, market orders at the intended entry. The same executor
// backs both backtests and live dry runs.
type SimExecutor struct {
	orders map[strategy.OrderHandle]*simOrder
}

var _ strategy.OrderExecutor = (*SimExecutor)(nil)

func NewSimExecutor() *SimExecutor {
	return &SimExecutor{orders: make(map[strategy.OrderHandle]*simOrder)}
}

// PlaceLimit implements strategy.OrderExecutor.
func (e *SimExecutor) PlaceLimit(s *strategy.Setup) (strategy.OrderHandle, error) {
	h := strategy.OrderHandle(uuid.NewString())
	e.orders[h] = &simOrder{
		setup: s,
		state: strategy.OrderState{Status: strategy.OrderNew},
	}
	return h, nil
}

// PlaceMarket implements strategy.OrderExecutor. Simulated market orders
// fill at the intended entry, which for htf_close setups is the trigger
// candle's close.
func (e *SimExecutor) PlaceMarket(s *strategy.Setup) (float64, error) {
	return s.Entry, nil
}

// Cancel implements strategy.OrderExecutor.
func (e *SimExecutor) Cancel(h strategy.OrderHandle) error {
	o, ok := e.orders[h]
	if !ok {
		return nil // already gone, not an error
	}
	if o.state.Status == strategy.OrderNew {
		o.state.Status = strategy.OrderCanceled
	}
	return nil
}

// Status implements strategy.OrderExecutor.
func (e *SimExecutor) Status(h strategy.OrderHandle) (strategy.OrderState, error) {
	o, ok := e.orders[h]
	if !ok {
		return strategy.OrderState{}, fmt.Errorf("unknown order %s", h)
	}
	return o.state, nil
}

// OnCandle advances all resting orders through one closed candle. A buy
// limit fills when the candle trades at or below its price, a sell limit
// at or above. Call this before polling the strategy with the same
// candle so fills that happened inside the bar are visible at its close.
func (e *SimExecutor) OnCandle(c market.Candle) {
	for _, o := range e.orders {
		if o.state.Status != strategy.OrderNew {
			continue
		}
		entry := o.setup.Entry
		var crossed bool
		if o.setup.Direction == strategy.Long {
			crossed = c.Low <= entry
		} else {
			crossed = c.High >= entry
		}
		if crossed {
			o.state = strategy.OrderState{
				Status:    strategy.OrderFilled,
				FillPrice: entry,
				FillTime:  c.CloseTime,
			}
		}
	}
}
