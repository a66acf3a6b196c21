package models

import "gorm.io/gorm"

// TradeRecord represents a completed trade in the database, one row per
// closed position with its aggregate result.
type TradeRecord struct {
	gorm.Model
	TradeID      string  `gorm:"uniqueIndex" json:"trade_id"`
	SetupID      string  `json:"setup_id"`
	ZoneID       string  `json:"zone_id"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"` // "LONG" or "SHORT"
	EntryPrice   float64 `json:"entry_price"`
	EntryTime    int64   `json:"entry_time"`
	ExitPrice    float64 `json:"exit_price"`
	ExitTime     int64   `json:"exit_time"`
	ExitReason   string  `json:"exit_reason"`
	Size         float64 `json:"size"`
	PnL          float64 `json:"pnl"`
	Fees         float64 `json:"fees"`
	IsSimulation bool    `json:"is_simulation"`
}
