package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"polymarket-mm/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordTradeAndDailyVolume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now()
	result := types.OrderResult{
		Signal: types.Signal{
			Strategy:    types.StrategyArbitrage,
			ConditionID: "m1",
			TokenID:     "yes-1",
			Side:        types.BUY,
			OrderType:   types.OrderTypeFOK,
			Price:       0.4,
			Size:        10,
		},
		Accepted:  true,
		OrderID:   "order-1",
		Timestamp: now,
	}

	if err := s.RecordTrade(ctx, result, true); err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if err := s.UpsertDailyVolume(ctx, types.StrategyArbitrage, result.Signal.NotionalUSD(), now); err != nil {
		t.Fatalf("upsert daily volume: %v", err)
	}
	if err := s.UpsertDailyVolume(ctx, types.StrategyArbitrage, result.Signal.NotionalUSD(), now); err != nil {
		t.Fatalf("upsert daily volume (second): %v", err)
	}

	total, err := s.DailyVolumeUSD(ctx, types.StrategyArbitrage, now)
	if err != nil {
		t.Fatalf("query daily volume: %v", err)
	}
	want := 2 * result.Signal.NotionalUSD()
	if total != want {
		t.Errorf("daily volume = %.4f, want %.4f", total, want)
	}

	other, err := s.DailyVolumeUSD(ctx, types.StrategyCopy, now)
	if err != nil {
		t.Fatalf("query daily volume for untouched strategy: %v", err)
	}
	if other != 0 {
		t.Errorf("expected 0 volume for untouched strategy, got %.4f", other)
	}
}

func TestFlipCycleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	cycle := types.FlipCycle{
		ID:           "cycle-1",
		ConditionID:  "m1",
		TokenID:      "yes-1",
		Status:       types.FlipRestingEntry,
		EntryPrice:   0.40,
		EntrySize:    25,
		EntryOrderID: "entry-1",
		OpenedAt:     time.Now(),
	}
	if err := s.SaveFlipCycle(ctx, cycle); err != nil {
		t.Fatalf("save flip cycle: %v", err)
	}

	open, err := s.LoadOpenFlipCycles(ctx)
	if err != nil {
		t.Fatalf("load open flip cycles: %v", err)
	}
	if len(open) != 1 || open[0].ID != cycle.ID {
		t.Fatalf("expected 1 open cycle with id %s, got %+v", cycle.ID, open)
	}

	cycle.Status = types.FlipIdle
	cycle.ExitPrice = 0.45
	cycle.Profit = 1.25
	cycle.ClosedAt = time.Now()
	if err := s.SaveFlipCycle(ctx, cycle); err != nil {
		t.Fatalf("update flip cycle: %v", err)
	}

	open, err = s.LoadOpenFlipCycles(ctx)
	if err != nil {
		t.Fatalf("load open flip cycles after close: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected closed cycle to drop out of open set, got %+v", open)
	}
}

func TestBotStateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.GetState(ctx, "copy_snapshot_0xabc"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := s.SetState(ctx, "copy_snapshot_0xabc", `{"size":10}`); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := s.SetState(ctx, "copy_snapshot_0xabc", `{"size":20}`); err != nil {
		t.Fatalf("overwrite state: %v", err)
	}

	value, ok, err := s.GetState(ctx, "copy_snapshot_0xabc")
	if err != nil || !ok {
		t.Fatalf("expected present key, got ok=%v err=%v", ok, err)
	}
	if value != `{"size":20}` {
		t.Errorf("value = %q, want overwritten snapshot", value)
	}
}
