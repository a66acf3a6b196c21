package strategy

import (
	"time"

	"github.com/google/uuid"

	"fvg-trade-bot-go/internal/market"
)

// ExitReason labels why (part of) a position was closed.
type ExitReason string

const (
	ExitTarget       ExitReason = "TARGET"
	ExitStop         ExitReason = "STOP"
	ExitInvalidation ExitReason = "INVALIDATION"
	ExitTimeout      ExitReason = "TIMEOUT"
)

// PartialExit records one fill that reduced the position.
type PartialExit struct {
	Price  float64
	Size   float64
	Fee    float64
	Reason ExitReason
	Tier   int // 1-based tier index for target exits, 0 otherwise
	At     time.Time
}

// Position is an open trade under management. Size only ever decreases;
// the stop only ever ratchets in the trade's favor.
type Position struct {
	TradeID      string
	SetupID      string
	ParentZoneID string
	Direction    Direction

	EntryPrice float64
	EntryTime  time.Time
	EntryFee   float64
	Size       float64 // original size
	Remaining  float64

	Stop    float64
	Targets []TargetTier
	TierHit []bool

	Exits []PartialExit
}

// FeeSchedule is the flat maker/taker rate pair applied to fills.
type FeeSchedule struct {
	Maker float64
	Taker float64
}

// Manager evaluates exit conditions for the single open position.
// Priority on every closed candle is fixed: opposing-zone invalidation,
// then stop, then target tiers in ascending distance.
type Manager struct {
	Fees FeeSchedule
}

// Open creates a position from a filled setup. fillPrice is the actual
// fill; market entries pay taker, resting limits pay maker.
func (m Manager) Open(s *Setup, fillPrice float64, fillTime time.Time) *Position {
	rate := m.Fees.Maker
	if s.MarketEntry {
		rate = m.Fees.Taker
	}
	return &Position{
		TradeID:      uuid.NewString(),
		SetupID:      s.ID,
		ParentZoneID: s.ParentZoneID,
		Direction:    s.Direction,
		EntryPrice:   fillPrice,
		EntryTime:    fillTime,
		EntryFee:     fillPrice * s.Size * rate,
		Size:         s.Size,
		Remaining:    s.Size,
		Stop:         s.Stop,
		Targets:      s.Targets,
		TierHit:      make([]bool, len(s.Targets)),
	}
}

// Evaluate processes one closed candle. invalidated reports whether an
// opposing zone trigger formed on this candle (the caller detects that).
// It returns true when the position is fully closed.
func (m Manager) Evaluate(p *Position, c market.Candle, invalidated bool) bool {
	if p.Remaining <= 0 {
		return true
	}

	if invalidated {
		m.closeAll(p, c.Close, ExitInvalidation, m.Fees.Taker, c.CloseTime)
		return true
	}

	if m.stopHit(p, c) {
		m.closeAll(p, p.Stop, ExitStop, m.Fees.Taker, c.CloseTime)
		return true
	}

	for i, t := range p.Targets {
		if p.TierHit[i] || !m.favourableReach(p, c, t.Price) {
			continue
		}
		p.TierHit[i] = true
		size := p.Size * t.CloseFraction
		if size > p.Remaining {
			size = p.Remaining
		}
		p.Remaining -= size
		p.Exits = append(p.Exits, PartialExit{
			Price:  t.Price,
			Size:   size,
			Fee:    t.Price * size * m.Fees.Maker,
			Reason: ExitTarget,
			Tier:   i + 1,
			At:     c.CloseTime,
		})
		m.ratchetStop(p, i)
	}

	if p.Remaining <= minRemaining(p.Size) {
		// Dust from fraction rounding: fold it into the last exit.
		if p.Remaining > 0 && len(p.Exits) > 0 {
			last := &p.Exits[len(p.Exits)-1]
			last.Size += p.Remaining
			last.Fee = last.Price * last.Size * m.Fees.Maker
			p.Remaining = 0
		}
		return true
	}
	return false
}

// CloseAtMarket force-closes the remaining size at the given price,
// used for timeout exits.
func (m Manager) CloseAtMarket(p *Position, price float64, reason ExitReason, at time.Time) {
	m.closeAll(p, price, reason, m.Fees.Taker, at)
}

func (m Manager) closeAll(p *Position, price float64, reason ExitReason, feeRate float64, at time.Time) {
	if p.Remaining <= 0 {
		return
	}
	p.Exits = append(p.Exits, PartialExit{
		Price:  price,
		Size:   p.Remaining,
		Fee:    price * p.Remaining * feeRate,
		Reason: reason,
		At:     at,
	})
	p.Remaining = 0
}

func (m Manager) stopHit(p *Position, c market.Candle) bool {
	if p.Direction == Long {
		return c.Low <= p.Stop
	}
	return c.High >= p.Stop
}

func (m Manager) favourableReach(p *Position, c market.Candle, price float64) bool {
	if p.Direction == Long {
		return c.High >= price
	}
	return c.Low <= price
}

// ratchetStop tightens the stop after a tier fill: first tier moves it to
// breakeven, later tiers move it to the previous tier's price.
func (m Manager) ratchetStop(p *Position, tier int) {
	if tier == 0 {
		p.Stop = p.EntryPrice
		return
	}
	p.Stop = p.Targets[tier-1].Price
}

// PnL aggregates realized profit net of all fees across every exit.
func (p *Position) PnL() float64 {
	sign := p.Direction.Sign()
	pnl := -p.EntryFee
	for _, e := range p.Exits {
		pnl += (e.Price-p.EntryPrice)*e.Size*sign - e.Fee
	}
	return pnl
}

// Fees returns total fees paid, entry included.
func (p *Position) Fees() float64 {
	total := p.EntryFee
	for _, e := range p.Exits {
		total += e.Fee
	}
	return total
}

// ClosedSize is the summed size across all exits; once the position is
// finalized it equals the original size exactly.
func (p *Position) ClosedSize() float64 {
	var total float64
	for _, e := range p.Exits {
		total += e.Size
	}
	return total
}

// FinalExit returns the last exit, which carries the terminal reason.
func (p *Position) FinalExit() (PartialExit, bool) {
	if len(p.Exits) == 0 {
		return PartialExit{}, false
	}
	return p.Exits[len(p.Exits)-1], true
}

func minRemaining(size float64) float64 {
	return size * 1e-9
}
