package dashboard

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/ledger"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitForActivity polls Snapshot until at least n activity entries are
// present or the deadline passes, avoiding a fixed sleep racing the
// projection goroutine.
func waitForActivity(t *testing.T, state *State, n int) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := state.Snapshot()
		if len(snap.Activity) >= n {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d activity entries", n)
	return Snapshot{}
}

func TestProjectionAppliesTradeExecuted(t *testing.T) {
	led := ledger.New(1000)
	led.OnFill(types.StrategyArbitrage, "cond-1", "tok-yes", types.BUY, 0.45, 10)

	bus := eventbus.New(testLogger())
	state := NewState(1000)
	proj := NewProjection(state, led, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proj.Run(ctx)

	result := types.OrderResult{
		Signal:     types.Signal{Strategy: types.StrategyArbitrage, ConditionID: "cond-1", TokenID: "tok-yes", Side: types.BUY},
		Accepted:   true,
		OrderID:    "order-1",
		FilledSize: 10,
		FillPrice:  0.45,
		Timestamp:  time.Now(),
	}
	bus.Publish(types.BotEvent{Type: types.EventTradeExecuted, Strategy: types.StrategyArbitrage, ConditionID: "cond-1", Data: result, Timestamp: time.Now()})

	snap := waitForActivity(t, state, 1)
	if snap.Strategies[types.StrategyArbitrage].TradesExecuted != 1 {
		t.Fatalf("want 1 trade executed, got %d", snap.Strategies[types.StrategyArbitrage].TradesExecuted)
	}
	if snap.Cash != led.Cash() {
		t.Fatalf("cash not refreshed from ledger: snapshot=%v ledger=%v", snap.Cash, led.Cash())
	}
	if snap.PositionsValue != led.TotalExposureUSD() {
		t.Fatalf("positions value not refreshed from ledger: snapshot=%v ledger=%v", snap.PositionsValue, led.TotalExposureUSD())
	}
	if len(snap.BalanceHistory) != 1 {
		t.Fatalf("want 1 balance history sample, got %d", len(snap.BalanceHistory))
	}
}

func TestProjectionLatchesDrawdownHalt(t *testing.T) {
	led := ledger.New(1000)
	bus := eventbus.New(testLogger())
	state := NewState(1000)
	proj := NewProjection(state, led, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proj.Run(ctx)

	bus.Publish(types.BotEvent{Type: types.EventDrawdownHalt, Strategy: types.StrategyLPFlip, Data: "drawdown halt: portfolio 100 <= floor 100", Timestamp: time.Now()})

	snap := waitForActivity(t, state, 1)
	if !snap.DrawdownHalted {
		t.Fatal("want DrawdownHalted true after DRAWDOWN_HALT event")
	}
	if snap.HaltReason == "" {
		t.Fatal("want non-empty halt reason")
	}
}

func TestProjectionTracksStrategyError(t *testing.T) {
	led := ledger.New(1000)
	bus := eventbus.New(testLogger())
	state := NewState(1000)
	proj := NewProjection(state, led, bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proj.Run(ctx)

	bus.Publish(types.BotEvent{Type: types.EventStrategyError, Strategy: types.StrategyCopy, Data: "boom", Timestamp: time.Now()})

	snap := waitForActivity(t, state, 1)
	counters := snap.Strategies[types.StrategyCopy]
	if !counters.Errored || counters.LastError != "boom" {
		t.Fatalf("want errored=true last_error=boom, got %+v", counters)
	}
}

func TestStateSnapshotIsIndependentCopy(t *testing.T) {
	state := NewState(500)
	snap1 := state.Snapshot()

	state.mu.Lock()
	state.cash = 999
	state.activity = append(state.activity, ActivityEntry{Detail: "mutated"})
	state.mu.Unlock()

	if snap1.Cash == 999 {
		t.Fatal("snapshot should not observe later mutation")
	}
	if len(snap1.Activity) != 0 {
		t.Fatal("snapshot activity slice should not alias live state")
	}
}
