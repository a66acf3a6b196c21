package strategy

import "time"

// PendingSnapshot is the serializable form of an in-flight order.
type PendingSnapshot struct {
	Setup  *Setup      `json:"setup"`
	Handle OrderHandle `json:"handle"`
	ZoneID string      `json:"zone_id"`
}

// InstanceSnapshot is the crash-recovery image of an instance: zone
// sets, the pending setup, the open trade and the balance. Candle
// history is not persisted; runners re-fetch it on startup.
type InstanceSnapshot struct {
	Symbol            string           `json:"symbol"`
	Balance           float64          `json:"balance"`
	InitialBalance    float64          `json:"initial_balance"`
	ConsecutiveLosses int              `json:"consecutive_losses"`
	TradesClosed      int              `json:"trades_closed"`
	Halted            bool             `json:"halted"`
	StopCooldownUntil time.Time        `json:"stop_cooldown_until"`
	DayStart          time.Time        `json:"day_start"`
	DayStartBalance   float64          `json:"day_start_balance"`
	SeenZoneKeys      []string         `json:"seen_zone_keys"`
	Active            []*ZoneState     `json:"active_zones"`
	Triggered         []*ZoneState     `json:"triggered_zones"`
	Pending           *PendingSnapshot `json:"pending_setup"`
	Open              *Position        `json:"open_trade"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// Snapshot captures the instance's recoverable state.
func (in *Instance) Snapshot(now time.Time) InstanceSnapshot {
	snap := InstanceSnapshot{
		Symbol:            in.cfg.Symbol,
		Balance:           in.balance,
		InitialBalance:    in.initialBalance,
		ConsecutiveLosses: in.consecLosses,
		TradesClosed:      in.tradesClosed,
		Halted:            in.halted,
		StopCooldownUntil: in.stopCooldownUntil,
		DayStart:          in.dayStart,
		DayStartBalance:   in.dayStartBalance,
		Active:            in.active,
		Triggered:         in.triggered,
		Open:              in.open,
		LastUpdated:       now,
	}
	for k := range in.seenZones {
		snap.SeenZoneKeys = append(snap.SeenZoneKeys, k)
	}
	if in.pending != nil {
		snap.Pending = &PendingSnapshot{
			Setup:  in.pending.setup,
			Handle: in.pending.handle,
			ZoneID: in.pending.zoneID,
		}
	}
	return snap
}

// Restore replaces the instance's recoverable state with a snapshot.
// Callers reconcile the pending order and open position against the
// exchange before resuming the event loop.
func (in *Instance) Restore(snap InstanceSnapshot) {
	in.balance = snap.Balance
	if snap.InitialBalance > 0 {
		in.initialBalance = snap.InitialBalance
	}
	in.consecLosses = snap.ConsecutiveLosses
	in.tradesClosed = snap.TradesClosed
	in.halted = snap.Halted
	in.stopCooldownUntil = snap.StopCooldownUntil
	in.dayStart = snap.DayStart
	in.dayStartBalance = snap.DayStartBalance
	in.active = snap.Active
	in.triggered = snap.Triggered
	in.open = snap.Open
	in.seenZones = make(map[string]struct{}, len(snap.SeenZoneKeys))
	for _, k := range snap.SeenZoneKeys {
		in.seenZones[k] = struct{}{}
	}
	in.pending = nil
	if snap.Pending != nil {
		in.pending = &pendingOrder{
			setup:  snap.Pending.Setup,
			handle: snap.Pending.Handle,
			zoneID: snap.Pending.ZoneID,
		}
	}
}

// TradesClosed returns the number of finalized trades this run.
func (in *Instance) TradesClosed() int { return in.tradesClosed }
