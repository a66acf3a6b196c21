package models

import "gorm.io/gorm"

// SetupEvent is one row of the strategy audit trail: zone formations,
// triggers, setup creations and rejections, fills, expiries. Rejected
// setups are journaled too so a losing variant can be diagnosed later.
type SetupEvent struct {
	gorm.Model
	Kind      string  `gorm:"index" json:"kind"`
	Symbol    string  `json:"symbol"`
	ZoneID    string  `gorm:"index" json:"zone_id"`
	SetupID   string  `json:"setup_id"`
	Direction string  `json:"direction"`
	Reason    string  `json:"reason"` // reject reason or extra detail
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}
