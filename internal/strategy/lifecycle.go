package strategy

import (
	"fmt"
	"time"
)

// OrderHandle identifies a resting order at the execution backend.
type OrderHandle string

// OrderStatus is the normalized status of an order at the backend.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderPartially OrderStatus = "PARTIALLY_FILLED"
	OrderFilled    OrderStatus = "FILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderExpired   OrderStatus = "EXPIRED"
)

// OrderState is a point-in-time view of an order.
type OrderState struct {
	Status    OrderStatus
	FillPrice float64
	FillTime  time.Time
}

// OrderExecutor is the execution backend the lifecycle manager talks to.
// The live engine implements it over the exchange REST client; the
// backtest implements it with candle-crossing fills. The core never
// assumes an order succeeded or failed without asking.
type OrderExecutor interface {
	// PlaceLimit rests a limit order for the setup and returns a handle.
	PlaceLimit(s *Setup) (OrderHandle, error)
	// PlaceMarket fills the setup immediately and returns the fill price.
	PlaceMarket(s *Setup) (float64, error)
	// Cancel revokes a resting order. Canceling an already-gone order
	// must not be an error.
	Cancel(h OrderHandle) error
	// Status reports the current order state.
	Status(h OrderHandle) (OrderState, error)
}

// pendingOrder pairs a submitted setup with its backend handle.
type pendingOrder struct {
	setup  *Setup
	handle OrderHandle
	zoneID string
}

// Lifecycle moves a validated setup through submission, fill and expiry.
// At most one pending setup exists per zone and per instance; expiry
// puts the parent zone on cooldown so the same trigger cannot re-arm
// immediately.
type Lifecycle struct {
	exec           OrderExecutor
	cooldownWindow time.Duration
}

// NewLifecycle builds a lifecycle manager. cooldown is added on top of
// the setup's expiry deadline when the order never fills.
func NewLifecycle(exec OrderExecutor, cooldown time.Duration) *Lifecycle {
	return &Lifecycle{exec: exec, cooldownWindow: cooldown}
}

// Submit places the order for a setup and attaches it to the parent
// zone. Market-entry setups fill synchronously and are returned with
// status Filled and the actual fill price.
func (l *Lifecycle) Submit(zs *ZoneState, s *Setup) (*pendingOrder, error) {
	if zs.PendingSetupID != "" {
		return nil, fmt.Errorf("zone %s already has pending setup %s", zs.Zone.ID, zs.PendingSetupID)
	}
	if zs.Consumed() {
		return nil, fmt.Errorf("zone %s is consumed", zs.Zone.ID)
	}

	if s.MarketEntry {
		fill, err := l.exec.PlaceMarket(s)
		if err != nil {
			return nil, fmt.Errorf("market entry failed: %w", err)
		}
		s.Status = SetupFilled
		s.Entry = fill
		zs.PendingSetupID = s.ID
		return &pendingOrder{setup: s, zoneID: zs.Zone.ID}, nil
	}

	h, err := l.exec.PlaceLimit(s)
	if err != nil {
		return nil, fmt.Errorf("limit order failed: %w", err)
	}
	zs.PendingSetupID = s.ID
	return &pendingOrder{setup: s, handle: h, zoneID: zs.Zone.ID}, nil
}

// PollResult is the outcome of a lifecycle poll.
type PollResult struct {
	Filled    bool
	FillPrice float64
	FillTime  time.Time
	Expired   bool
}

// Poll checks a pending order against the backend and the expiry clock.
// On expiry the order is cancelled and the parent zone's cooldown set to
// expiry + cooldown window; hasFilledTrade stays false so the zone may
// produce a fresh setup later if it survives. On fill the zone is
// consumed (one filled trade per zone, ever).
func (l *Lifecycle) Poll(po *pendingOrder, zs *ZoneState, now time.Time) (PollResult, error) {
	s := po.setup

	if s.Status == SetupFilled {
		// Market entry, already filled at submit time.
		l.markFilled(zs, s)
		return PollResult{Filled: true, FillPrice: s.Entry, FillTime: s.CreatedAt}, nil
	}

	if !now.Before(s.ExpiryAt) {
		// Deadline reached. Confirm with the backend before cancelling:
		// a fill the backend reports is final no matter when it landed,
		// a cancel against it would be refused and the position would be
		// left unmanaged on the exchange. A status error aborts the poll
		// so the next cycle retries instead of cancelling blind.
		st, err := l.exec.Status(po.handle)
		if err != nil {
			return PollResult{}, fmt.Errorf("order status: %w", err)
		}
		if st.Status == OrderFilled {
			s.Status = SetupFilled
			l.markFilled(zs, s)
			return PollResult{Filled: true, FillPrice: st.FillPrice, FillTime: st.FillTime}, nil
		}
		if err := l.exec.Cancel(po.handle); err != nil {
			return PollResult{}, fmt.Errorf("cancel on expiry: %w", err)
		}
		s.Status = SetupExpired
		zs.PendingSetupID = ""
		zs.CooldownUntil = s.ExpiryAt.Add(l.cooldownWindow)
		return PollResult{Expired: true}, nil
	}

	st, err := l.exec.Status(po.handle)
	if err != nil {
		return PollResult{}, fmt.Errorf("order status: %w", err)
	}
	switch st.Status {
	case OrderFilled:
		s.Status = SetupFilled
		l.markFilled(zs, s)
		return PollResult{Filled: true, FillPrice: st.FillPrice, FillTime: st.FillTime}, nil
	case OrderCanceled, OrderExpired:
		s.Status = SetupCancelled
		zs.PendingSetupID = ""
		zs.CooldownUntil = now.Add(l.cooldownWindow)
		return PollResult{Expired: true}, nil
	default:
		return PollResult{}, nil
	}
}

// CancelOutstanding revokes the resting order on shutdown.
func (l *Lifecycle) CancelOutstanding(po *pendingOrder, zs *ZoneState) error {
	if po == nil || po.setup.Status != SetupPending || po.setup.MarketEntry {
		return nil
	}
	if err := l.exec.Cancel(po.handle); err != nil {
		return err
	}
	po.setup.Status = SetupCancelled
	zs.PendingSetupID = ""
	return nil
}

func (l *Lifecycle) markFilled(zs *ZoneState, s *Setup) {
	zs.HasFilledTrade = true
	zs.PendingSetupID = ""
}
