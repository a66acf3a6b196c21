package models

import "gorm.io/gorm"

// StateSnapshot persists the full strategy state as a JSON blob, one
// row per symbol, overwritten on every save. On startup the trader
// restores from the latest snapshot instead of replaying history.
type StateSnapshot struct {
	gorm.Model
	Symbol  string `gorm:"uniqueIndex" json:"symbol"`
	TakenAt int64  `json:"taken_at"`
	Blob    []byte `gorm:"type:blob" json:"-"`
}
