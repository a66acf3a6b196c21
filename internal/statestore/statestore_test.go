package statestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fvg-trade-bot-go/internal/database"
	"fvg-trade-bot-go/internal/strategy"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func sampleSnapshot(balance float64) strategy.InstanceSnapshot {
	z := strategy.Zone{ID: "zone-1", Type: strategy.ZoneBullish, Top: 104, Bottom: 102, Timeframe: "4h"}
	return strategy.InstanceSnapshot{
		Symbol:       "BTCUSDT",
		Balance:      balance,
		TradesClosed: 3,
		SeenZoneKeys: []string{z.ID},
		Triggered: []*strategy.ZoneState{{
			Zone:           z,
			Entered:        true,
			Trigger:        strategy.TriggerStateRej,
			TriggerPrice:   101,
			MaxHighTouched: 107.5,
			MinLowTouched:  100,
		}},
		LastUpdated: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := NewStore(setupTestDB(t))

	require.NoError(t, store.Save(sampleSnapshot(10000)))

	snap, err := store.Load("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, 3, snap.TradesClosed)
	require.Len(t, snap.Triggered, 1)
	assert.Equal(t, strategy.TriggerStateRej, snap.Triggered[0].Trigger)
	assert.Equal(t, 107.5, snap.Triggered[0].MaxHighTouched)
	assert.False(t, snap.LastUpdated.IsZero())
}

func TestStoreUpsertOverwrites(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.Save(sampleSnapshot(10000)))
	require.NoError(t, store.Save(sampleSnapshot(10500)))

	snap, err := store.Load("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10500.0, snap.Balance)

	// Still one row per symbol.
	var count int64
	require.NoError(t, db.Table("state_snapshots").Where("deleted_at IS NULL").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(setupTestDB(t))
	_, err := store.Load("ETHUSDT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(setupTestDB(t))
	require.NoError(t, store.Save(sampleSnapshot(10000)))
	require.NoError(t, store.Delete("BTCUSDT"))

	_, err := store.Load("BTCUSDT")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is harmless.
	assert.NoError(t, store.Delete("BTCUSDT"))
}
