package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fvg-trade-bot-go/internal/models"
	"fvg-trade-bot-go/internal/strategy"
)

// ErrNotFound is returned when no snapshot exists for the symbol.
var ErrNotFound = errors.New("no snapshot found")

// Store saves and restores strategy state across restarts. One row per
// symbol, overwritten on every save.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save serializes the snapshot and upserts it under its symbol.
func (s *Store) Save(snap strategy.InstanceSnapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	row := models.StateSnapshot{
		Symbol:  snap.Symbol,
		TakenAt: time.Now().Unix(),
		Blob:    blob,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"taken_at", "blob", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for the symbol, or ErrNotFound.
func (s *Store) Load(symbol string) (strategy.InstanceSnapshot, error) {
	var row models.StateSnapshot
	err := s.db.Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return strategy.InstanceSnapshot{}, ErrNotFound
	}
	if err != nil {
		return strategy.InstanceSnapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap strategy.InstanceSnapshot
	if err := json.Unmarshal(row.Blob, &snap); err != nil {
		return strategy.InstanceSnapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Delete removes the stored snapshot for the symbol, if any.
func (s *Store) Delete(symbol string) error {
	return s.db.Where("symbol = ?", symbol).Delete(&models.StateSnapshot{}).Error
}
