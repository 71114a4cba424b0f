package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/persist"
	"polymarket-mm/pkg/types"
)

// positionsServer serves a fixed current-positions list for any tracked
// address.
func positionsServer(t *testing.T, positions []map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(positions)
	})
	return httptest.NewServer(mux)
}

func newTestCopy(t *testing.T, serverURL string, cfg config.CopyConfig, store *persist.Store) *Copy {
	t.Helper()
	acfg := config.Config{API: config.APIConfig{CLOBBaseURL: serverURL}, Wallet: config.WalletConfig{PrivateKey: "0x1111111111111111111111111111111111111111111111111111111111111111", ChainID: 137}}
	auth, err := exchange.NewAuth(acfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	client := exchange.NewClient(acfg, auth, testArbLogger())
	c := NewCopy(client, store, eventbus.New(testArbLogger()), cfg, testArbLogger())
	c.sleep = func(time.Duration) {} // no real delay in tests
	return c
}

// TestCopyDiffBelowMinimumEmitsNoSignalsButSavesSnapshot pins the spec's
// worked copy-diff example: prior {tok1: 100}, current {tok1: 150, tok2:
// 80}, scale 0.1, min trade $5. Both deltas scale to a notional under the
// floor (tok1: 50*0.1*0.40=2, tok2: 80*0.1*0.20=1.6), so no signals should
// be emitted, but the snapshot must still be overwritten to current.
func TestCopyDiffBelowMinimumEmitsNoSignalsButSavesSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := persist.Open(t.TempDir() + "/copy.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	const address = "0xtrader"
	if err := store.SetState(ctx, "copy_snapshot_"+address, `[{"token_id":"tok1","condition_id":"cond1","size":100,"price":0.40}]`); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	server := positionsServer(t, []map[string]string{
		{"conditionId": "cond1", "asset": "tok1", "size": "150", "avgPrice": "0.40"},
		{"conditionId": "cond2", "asset": "tok2", "size": "80", "avgPrice": "0.20"},
	})
	defer server.Close()

	c := newTestCopy(t, server.URL, config.CopyConfig{Traders: []string{address}, ScaleFactor: 0.1, MinTradeUSD: 5}, store)

	signals, err := c.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signals below the minimum-trade floor, got %d: %+v", len(signals), signals)
	}

	raw, ok, err := store.GetState(ctx, "copy_snapshot_"+address)
	if err != nil || !ok {
		t.Fatalf("snapshot not found: ok=%v err=%v", ok, err)
	}
	if raw == `[{"token_id":"tok1","condition_id":"cond1","size":100,"price":0.40}]` {
		t.Fatal("snapshot was not overwritten to the current positions")
	}
}

// TestCopySellMirrorsClosedPosition confirms a position absent from the
// current snapshot (fully closed since the last check) always emits a
// SELL regardless of size, with no minimum-trade floor applied.
func TestCopySellMirrorsClosedPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := persist.Open(t.TempDir() + "/copy2.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	const address = "0xtrader2"
	if err := store.SetState(ctx, "copy_snapshot_"+address, `[{"token_id":"tok1","condition_id":"cond1","size":40,"price":0.55}]`); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	server := positionsServer(t, []map[string]string{})
	defer server.Close()

	c := newTestCopy(t, server.URL, config.CopyConfig{Traders: []string{address}, ScaleFactor: 1.0, MinTradeUSD: 1000}, store)

	signals, err := c.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one mirrored SELL, got %d", len(signals))
	}
	if signals[0].Side != types.SELL {
		t.Fatalf("expected SELL, got %v", signals[0].Side)
	}
}
