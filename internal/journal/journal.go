package journal

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fvg-trade-bot-go/internal/models"
	"fvg-trade-bot-go/internal/strategy"
)

// Journal persists strategy events to the database: every closed trade as
// a TradeRecord and the full event stream (including rejected setups) as
// SetupEvent rows. Write failures are logged and dropped, never allowed
// to stall trading.
type Journal struct {
	db         *gorm.DB
	logger     *zap.Logger
	symbol     string
	simulation bool
}

var _ strategy.Observer = (*Journal)(nil)

// NewJournal wires a journal for one symbol. simulation marks the rows
// written by backtests and dry runs.
func NewJournal(db *gorm.DB, logger *zap.Logger, symbol string, simulation bool) *Journal {
	return &Journal{db: db, logger: logger, symbol: symbol, simulation: simulation}
}

// Observe implements strategy.Observer.
func (j *Journal) Observe(e strategy.Event) {
	ev := models.SetupEvent{
		Kind:      string(e.Kind),
		Symbol:    j.symbol,
		Timestamp: e.At.Unix(),
	}
	if e.Zone != nil {
		ev.ZoneID = e.Zone.ID
		ev.Price = e.Zone.Top
	}
	if e.Setup != nil {
		ev.SetupID = e.Setup.ID
		ev.Price = e.Setup.Entry
	}
	if e.Direction != "" {
		ev.Direction = string(e.Direction)
	}
	if e.Reason != "" {
		ev.Reason = string(e.Reason)
	}
	if err := j.db.Create(&ev).Error; err != nil {
		j.logger.Error("failed to journal event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}

	if e.Kind == strategy.EventTradeClosed && e.Position != nil {
		j.recordTrade(e.Position)
	}
}

func (j *Journal) recordTrade(p *strategy.Position) {
	rec := models.TradeRecord{
		TradeID:      p.TradeID,
		SetupID:      p.SetupID,
		ZoneID:       p.ParentZoneID,
		Symbol:       j.symbol,
		Direction:    string(p.Direction),
		EntryPrice:   p.EntryPrice,
		EntryTime:    p.EntryTime.Unix(),
		Size:         p.Size,
		PnL:          p.PnL(),
		Fees:         p.Fees(),
		IsSimulation: j.simulation,
	}
	if final, ok := p.FinalExit(); ok {
		rec.ExitPrice = final.Price
		rec.ExitTime = final.At.Unix()
		rec.ExitReason = string(final.Reason)
	}
	if err := j.db.Create(&rec).Error; err != nil {
		j.logger.Error("failed to journal trade", zap.String("trade_id", p.TradeID), zap.Error(err))
	}
}

// Trades returns the most recent closed trades, newest first.
func (j *Journal) Trades(limit int) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	err := j.db.Order("exit_time desc").Limit(limit).Find(&trades).Error
	return trades, err
}

// Summary aggregates closed-trade results for the status endpoint.
type Summary struct {
	Trades    int       `json:"trades"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	TotalPnL  float64   `json:"total_pnl"`
	TotalFees float64   `json:"total_fees"`
	LastTrade time.Time `json:"last_trade,omitempty"`
}

// Summarize computes the aggregate over all recorded trades for the
// journal's symbol.
func (j *Journal) Summarize() (Summary, error) {
	var trades []models.TradeRecord
	if err := j.db.Where("symbol = ?", j.symbol).Find(&trades).Error; err != nil {
		return Summary{}, err
	}
	var s Summary
	for _, t := range trades {
		s.Trades++
		if t.PnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		s.TotalPnL += t.PnL
		s.TotalFees += t.Fees
		if ts := time.Unix(t.ExitTime, 0); ts.After(s.LastTrade) {
			s.LastTrade = ts
		}
	}
	return s, nil
}
