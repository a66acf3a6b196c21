package strategy

import "math"

// RiskSizer converts a stop distance and account balance into a position
// size, respecting the exchange's lot-size step and minimum notional.
//
// Policy for undersized results is fixed: the setup is rejected, never
// bumped up to the minimum, so realized risk can never exceed the
// configured fraction.
type RiskSizer struct {
	RiskFraction float64 // fraction of balance risked per trade
	LotStep      float64 // exchange LOT_SIZE step, 0 disables rounding
	MinQty       float64
	MinNotional  float64
}

// Size returns the quantity for the given entry/stop pair, or false when
// the result violates exchange minimums.
func (r *RiskSizer) Size(entry, stop, balance float64) (float64, bool) {
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit <= 0 || entry <= 0 || balance <= 0 {
		return 0, false
	}
	qty := balance * r.RiskFraction / riskPerUnit
	if r.LotStep > 0 {
		qty = math.Floor(qty/r.LotStep) * r.LotStep
	}
	if qty <= 0 || qty < r.MinQty {
		return 0, false
	}
	if r.MinNotional > 0 && qty*entry < r.MinNotional {
		return 0, false
	}
	return qty, true
}
