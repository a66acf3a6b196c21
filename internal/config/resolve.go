package config

import (
	"fvg-trade-bot-go/internal/market"
	"fvg-trade-bot-go/internal/strategy"
)

// InstanceConfig maps the validated file configuration onto the strategy
// core's typed configuration. Validate must have passed first; the enum
// conversions here do not re-check.
func (c *Config) InstanceConfig() strategy.InstanceConfig {
	s := c.Strategy
	r := c.Risk

	tiers := make([]strategy.TierRR, 0, len(s.Tiers))
	for _, t := range s.Tiers {
		tiers = append(tiers, strategy.TierRR{RR: t.RR, Fraction: t.Fraction})
	}

	return strategy.InstanceConfig{
		Symbol: s.Symbol,
		HTF:    market.Timeframe(s.HTF),
		LTF:    market.Timeframe(s.LTF),
		Detector: strategy.Detector{
			Kind:         strategy.ZoneKind(s.ZoneKind),
			SwingWing:    s.SwingWing,
			UseWickRange: s.UseWickRange,
		},
		Mode: strategy.TriggerMode(s.TriggerMode),
		Builder: strategy.BuilderConfig{
			Mode:                strategy.TriggerMode(s.TriggerMode),
			EntryMethod:         strategy.EntryMethod(s.EntryMethod),
			TargetMethod:        strategy.TargetMethod(s.TargetMethod),
			ZoneKind:            strategy.ZoneKind(s.ZoneKind),
			LTFLookback:         s.LTFLookback,
			StopBufferPct:       s.StopBufferPct,
			BreakoutPct:         s.BreakoutPct,
			MinStopPct:          s.MinStopPct,
			MaxStopPct:          s.MaxStopPct,
			MinRR:               s.MinRR,
			MaxRR:               s.MaxRR,
			TierRRs:             tiers,
			MaxEntryDistancePct: s.MaxEntryDistancePct,
			ExpiryCandles:       s.ExpiryCandles,
		},
		Fees: strategy.FeeSchedule{
			Maker: r.MakerFee,
			Taker: r.TakerFee,
		},
		CooldownCandles:      s.CooldownCandles,
		CooldownAfterStop:    s.CooldownAfterStop,
		HTFHistory:           s.HTFHistory,
		LTFHistory:           s.LTFHistory,
		MaxTrackedZones:      s.MaxTrackedZones,
		MaxDrawdownPct:       r.MaxDrawdownPct,
		MaxDailyLossPct:      r.MaxDailyLossPct,
		MaxConsecutiveLosses: r.MaxConsecutiveLosses,
	}
}

// RiskSizer builds the position sizer from the risk section.
func (c *Config) RiskSizer() *strategy.RiskSizer {
	return &strategy.RiskSizer{
		RiskFraction: c.Risk.RiskFraction,
		LotStep:      c.Risk.LotStep,
		MinQty:       c.Risk.MinQty,
		MinNotional:  c.Risk.MinNotional,
	}
}
