package strategy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fvg-trade-bot-go/internal/market"
)

// recordObserver captures every emitted event for assertions.
type recordObserver struct {
	events []Event
}

func (r *recordObserver) Observe(e Event) { r.events = append(r.events, e) }

func (r *recordObserver) count(kind EventKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordObserver) last(kind EventKind) (Event, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// hourBar builds a valid candle at slot i of a 1h grid.
func hourBar(i int, open, high, low, close float64) market.Candle {
	return market.Candle{
		OpenTime:  testStart.Add(time.Duration(i) * time.Hour),
		CloseTime: testStart.Add(time.Duration(i+1) * time.Hour),
		Open:      open, High: high, Low: low, Close: close,
		Volume: 1,
	}
}

func testInstanceConfig() InstanceConfig {
	return InstanceConfig{
		Symbol:   "BTCUSDT",
		HTF:      "4h",
		LTF:      "1h",
		Detector: Detector{Kind: ZoneKindFVG},
		Mode:     TriggerRejected,
		Builder: BuilderConfig{
			Mode:          TriggerRejected,
			EntryMethod:   EntryHTFClose,
			TargetMethod:  TargetFixedRR,
			StopBufferPct: 0,
			MinStopPct:    0.0001,
			MaxStopPct:    0.5,
			MinRR:         1,
			TierRRs:       []TierRR{{RR: 1, Fraction: 1.0}},
			ExpiryCandles: 4,
		},
		CooldownCandles: 4,
	}
}

func newTestInstance(t *testing.T, cfg InstanceConfig, exec OrderExecutor, obs Observer) *Instance {
	t.Helper()
	in, err := NewInstance(cfg, exec, &RiskSizer{RiskFraction: 0.01}, 10000, obs, zap.NewNop())
	require.NoError(t, err)
	return in
}

// feedHTF pushes candles with now equal to each close time.
func feedHTF(t *testing.T, in *Instance, candles ...market.Candle) {
	t.Helper()
	for _, c := range candles {
		require.NoError(t, in.OnHTFClose(c, c.CloseTime))
	}
}

// bullRejectSequence forms a bullish zone [102,104], lets price enter it
// and then close below, arming a short with trigger price 101 and
// extremes high 107.5 / low 100.
func bullRejectSequence() []market.Candle {
	return []market.Candle{
		bar(0, 100, 102, 99, 101),
		bar(1, 101, 106, 101, 105),
		bar(2, 105, 108, 104, 107),   // forms the gap
		bar(3, 107, 107.5, 103, 106), // enters the zone
		bar(4, 106, 106, 100, 101),   // closes through: rejection
	}
}

func TestInstanceZoneLifecycle(t *testing.T) {
	t.Run("FormEnterTrigger", func(t *testing.T) {
		obs := &recordObserver{}
		in := newTestInstance(t, testInstanceConfig(), &fakeExecutor{}, obs)

		feedHTF(t, in, bullRejectSequence()...)

		assert.Equal(t, 0, in.ActiveZoneCount())
		assert.Equal(t, 1, in.TriggeredZoneCount())
		assert.Equal(t, 1, obs.count(EventZoneFormed))
		assert.Equal(t, 1, obs.count(EventZoneEntered))
		assert.Equal(t, 1, obs.count(EventZoneTriggered))

		ev, ok := obs.last(EventZoneTriggered)
		require.True(t, ok)
		assert.Equal(t, TriggerStateRej, ev.Trigger)
		assert.Equal(t, Short, ev.Direction)
	})

	t.Run("FormingCandleDoesNotUpdateOwnZone", func(t *testing.T) {
		obs := &recordObserver{}
		in := newTestInstance(t, testInstanceConfig(), &fakeExecutor{}, obs)

		// The gap candle itself overlaps the zone it forms; that must not
		// count as an entry.
		feedHTF(t, in, bullRejectSequence()[:3]...)
		assert.Equal(t, 1, in.ActiveZoneCount())
		assert.Equal(t, 0, obs.count(EventZoneEntered))
	})

	t.Run("DuplicateDetectionSuppressed", func(t *testing.T) {
		obs := &recordObserver{}
		in := newTestInstance(t, testInstanceConfig(), &fakeExecutor{}, obs)

		seq := bullRejectSequence()[:3]
		feedHTF(t, in, seq...)
		// Re-delivering the forming candle is idempotent.
		require.NoError(t, in.OnHTFClose(seq[2], seq[2].CloseTime))
		assert.Equal(t, 1, in.ActiveZoneCount())
		assert.Equal(t, 1, obs.count(EventZoneFormed))
	})

	t.Run("MaxTrackedZonesPrunesOldest", func(t *testing.T) {
		cfg := testInstanceConfig()
		cfg.MaxTrackedZones = 1
		in := newTestInstance(t, cfg, &fakeExecutor{}, &recordObserver{})

		feedHTF(t, in,
			bar(0, 100, 102, 99, 101),
			bar(1, 101, 106, 101, 105),
			bar(2, 105, 108, 104, 107),  // zone [102,104]
			bar(3, 109, 111, 108, 110), // zone [106,108]
		)
		assert.Equal(t, 1, in.ActiveZoneCount())
	})
}

func TestInstanceFullTradeFlow(t *testing.T) {
	obs := &recordObserver{}
	exec := &fakeExecutor{marketFill: 101}
	in := newTestInstance(t, testInstanceConfig(), exec, obs)

	feedHTF(t, in, bullRejectSequence()...)

	// First LTF close after the trigger builds and fills the market entry.
	l0 := hourBar(20, 101, 101.5, 100.5, 101)
	require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))

	require.NotNil(t, in.OpenPosition())
	assert.Equal(t, 1, obs.count(EventSetupCreated))
	assert.Equal(t, 1, obs.count(EventSetupFilled))
	assert.Len(t, exec.placedMarkets, 1)
	assert.Equal(t, 0, in.TriggeredZoneCount()) // zone consumed by the fill

	p := in.OpenPosition()
	assert.Equal(t, Short, p.Direction)
	assert.Equal(t, 101.0, p.EntryPrice)
	assert.Equal(t, 107.5, p.Stop) // max high touched, zero buffer
	require.Len(t, p.Targets, 1)
	assert.InDelta(t, 94.5, p.Targets[0].Price, 1e-9) // entry - 1R

	// Target reached: position closes at a profit.
	l1 := hourBar(21, 101, 101, 94, 95)
	require.NoError(t, in.OnLTFClose(l1, l1.CloseTime))

	assert.Nil(t, in.OpenPosition())
	assert.Equal(t, 1, in.TradesClosed())
	assert.Greater(t, in.Balance(), 10000.0)

	ev, ok := obs.last(EventTradeClosed)
	require.True(t, ok)
	final, hasFinal := ev.Position.FinalExit()
	require.True(t, hasFinal)
	assert.Equal(t, ExitTarget, final.Reason)
	assert.InDelta(t, ev.Position.Size, ev.Position.ClosedSize(), 1e-9)
}

func TestInstanceWarmup(t *testing.T) {
	obs := &recordObserver{}
	exec := &fakeExecutor{marketFill: 101}
	in := newTestInstance(t, testInstanceConfig(), exec, obs)

	in.SetWarmup(true)
	feedHTF(t, in, bullRejectSequence()...)
	l0 := hourBar(20, 101, 101.5, 100.5, 101)
	require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))

	// State rebuilt, but nothing submitted.
	assert.Equal(t, 1, in.TriggeredZoneCount())
	assert.Nil(t, in.OpenPosition())
	assert.Empty(t, exec.placedMarkets)
	assert.Equal(t, 0, obs.count(EventSetupCreated))

	// Leaving warm-up resumes normal operation on the next close.
	in.SetWarmup(false)
	l1 := hourBar(21, 101, 102, 100.5, 101.5)
	require.NoError(t, in.OnLTFClose(l1, l1.CloseTime))
	assert.Equal(t, 1, obs.count(EventSetupCreated))
	assert.NotNil(t, in.OpenPosition())
}

func TestInstanceLookaheadHalts(t *testing.T) {
	obs := &recordObserver{}
	in := newTestInstance(t, testInstanceConfig(), &fakeExecutor{}, obs)

	c := hourBar(0, 100, 101, 99, 100.5)
	err := in.OnLTFClose(c, c.CloseTime.Add(-time.Second))
	assert.ErrorIs(t, err, ErrLookahead)
	assert.True(t, in.Halted())
	assert.Equal(t, 1, obs.count(EventHalted))

	// Same rule on the HTF path; the instance stays halted.
	h := bar(0, 100, 102, 99, 101)
	err = in.OnHTFClose(h, h.CloseTime.Add(-time.Second))
	assert.ErrorIs(t, err, ErrLookahead)
}

func TestInstanceOpposingTriggerClosesPosition(t *testing.T) {
	obs := &recordObserver{}
	in := newTestInstance(t, testInstanceConfig(), &fakeExecutor{}, obs)

	// Hand the instance an open short.
	s := &Setup{
		ID: "setup-1", ParentZoneID: "ext", Direction: Short,
		Entry: 101, Stop: 107.5,
		Targets: []TargetTier{{Price: 94.5, CloseFraction: 1}},
		Size:    10,
	}
	in.open = in.posMgr.Open(s, 101, testStart)

	// A bearish zone rejects upward, arming a long: opposite of the open
	// short, so the position closes at the trigger candle's close.
	feedHTF(t, in,
		bar(0, 105, 106, 103, 104),
		bar(1, 104, 104, 99, 100),
		bar(2, 100, 101, 97, 98),   // bearish gap [101,103]
		bar(3, 98, 102, 97, 101),   // enters
		bar(4, 101, 105, 101, 104), // closes above: long trigger
	)

	assert.Nil(t, in.OpenPosition())
	assert.Equal(t, 1, in.TradesClosed())

	ev, ok := obs.last(EventTradeClosed)
	require.True(t, ok)
	final, _ := ev.Position.FinalExit()
	assert.Equal(t, ExitInvalidation, final.Reason)
	assert.Equal(t, 104.0, final.Price)
}

func TestInstanceGuardRails(t *testing.T) {
	t.Run("ConsecutiveLosses", func(t *testing.T) {
		cfg := testInstanceConfig()
		cfg.MaxConsecutiveLosses = 1
		obs := &recordObserver{}
		exec := &fakeExecutor{marketFill: 101}
		in := newTestInstance(t, cfg, exec, obs)

		feedHTF(t, in, bullRejectSequence()...)
		l0 := hourBar(20, 101, 101.5, 100.5, 101)
		require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))
		require.NotNil(t, in.OpenPosition())

		// Stop run: the short loses and the instance halts.
		l1 := hourBar(21, 101, 108, 100, 107)
		require.NoError(t, in.OnLTFClose(l1, l1.CloseTime))

		assert.Nil(t, in.OpenPosition())
		assert.True(t, in.Halted())
		assert.Equal(t, 1, obs.count(EventHalted))
		assert.Less(t, in.Balance(), 10000.0)
	})

	t.Run("MaxDrawdown", func(t *testing.T) {
		cfg := testInstanceConfig()
		cfg.MaxDrawdownPct = 0.1 // halts after any meaningful loss
		exec := &fakeExecutor{marketFill: 101}
		in := newTestInstance(t, cfg, exec, &recordObserver{})

		feedHTF(t, in, bullRejectSequence()...)
		l0 := hourBar(20, 101, 101.5, 100.5, 101)
		require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))
		l1 := hourBar(21, 101, 108, 100, 107)
		require.NoError(t, in.OnLTFClose(l1, l1.CloseTime))

		assert.True(t, in.Halted())
	})

	t.Run("MaxDailyLoss", func(t *testing.T) {
		cfg := testInstanceConfig()
		cfg.MaxDailyLossPct = 0.1 // halts after any meaningful loss
		exec := &fakeExecutor{marketFill: 101}
		in := newTestInstance(t, cfg, exec, &recordObserver{})

		feedHTF(t, in, bullRejectSequence()...)
		l0 := hourBar(20, 101, 101.5, 100.5, 101)
		require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))
		l1 := hourBar(21, 101, 108, 100, 107)
		require.NoError(t, in.OnLTFClose(l1, l1.CloseTime))

		assert.True(t, in.Halted())
	})

	t.Run("HaltedInstanceSubmitsNothing", func(t *testing.T) {
		cfg := testInstanceConfig()
		cfg.MaxConsecutiveLosses = 1
		obs := &recordObserver{}
		exec := &fakeExecutor{marketFill: 101}
		in := newTestInstance(t, cfg, exec, obs)

		feedHTF(t, in, bullRejectSequence()...)
		l0 := hourBar(20, 101, 101.5, 100.5, 101)
		require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))
		l1 := hourBar(21, 101, 108, 100, 107)
		require.NoError(t, in.OnLTFClose(l1, l1.CloseTime))
		require.True(t, in.Halted())

		created := obs.count(EventSetupCreated)

		// New trigger sequence arrives; tracking continues but no order
		// is placed.
		feedHTF(t, in,
			bar(6, 100, 102, 99, 101),
			bar(7, 101, 106, 101, 105),
			bar(8, 105, 108, 104, 107),
			bar(9, 107, 107.5, 103, 106),
			bar(10, 106, 106, 100, 101),
		)
		l2 := hourBar(44, 101, 101.5, 100.5, 101)
		require.NoError(t, in.OnLTFClose(l2, l2.CloseTime))

		assert.Equal(t, created, obs.count(EventSetupCreated))
		assert.Len(t, exec.placedMarkets, 1)
	})
}

func TestInstanceSnapshotRestore(t *testing.T) {
	exec := &fakeExecutor{marketFill: 101}
	in := newTestInstance(t, testInstanceConfig(), exec, &recordObserver{})

	feedHTF(t, in, bullRejectSequence()...)
	l0 := hourBar(20, 101, 101.5, 100.5, 101)
	require.NoError(t, in.OnLTFClose(l0, l0.CloseTime))
	require.NotNil(t, in.OpenPosition())

	now := l0.CloseTime
	snap := in.Snapshot(now)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, now, snap.LastUpdated)
	require.NotNil(t, snap.Open)

	// Round-trip through JSON the way the state store persists it.
	blob, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded InstanceSnapshot
	require.NoError(t, json.Unmarshal(blob, &decoded))

	restored := newTestInstance(t, testInstanceConfig(), exec, &recordObserver{})
	restored.Restore(decoded)

	assert.Equal(t, in.Balance(), restored.Balance())
	assert.Equal(t, in.TradesClosed(), restored.TradesClosed())
	assert.Equal(t, in.ActiveZoneCount(), restored.ActiveZoneCount())
	assert.Equal(t, in.TriggeredZoneCount(), restored.TriggeredZoneCount())
	assert.Equal(t, in.Halted(), restored.Halted())
	require.NotNil(t, restored.OpenPosition())
	assert.Equal(t, in.OpenPosition().TradeID, restored.OpenPosition().TradeID)
	assert.Equal(t, in.OpenPosition().Stop, restored.OpenPosition().Stop)

	// The restored instance keeps managing the position.
	l1 := hourBar(21, 101, 101, 94, 95)
	require.NoError(t, restored.OnLTFClose(l1, l1.CloseTime))
	assert.Nil(t, restored.OpenPosition())
	assert.Greater(t, restored.Balance(), in.Balance())
}
