package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/eventbus"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/pkg/types"
)

func testArbLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// arbTestServer serves one reward market (YES/NO tokens) plus fixed
// best-ask prices for each token: yesAsk=0.45, noAsk=0.52, cost=0.97,
// profit=0.03.
func arbTestServer(t *testing.T, yesAsk, noAsk float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rewards/markets", func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Data []map[string]interface{} `json:"data"`
		}{
			Data: []map[string]interface{}{
				{
					"conditionId":      "cond-1",
					"active":           true,
					"closed":           false,
					"rewardsMaxSpread": 0.03,
					"rewardsMinSize":   50.0,
					"rewardsDailyRate": 100.0,
					"tokens": []map[string]interface{}{
						{"token_id": "yes-token", "outcome": "YES"},
						{"token_id": "no-token", "outcome": "NO"},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		tokenID := r.URL.Query().Get("token_id")
		price := yesAsk
		if tokenID == "no-token" {
			price = noAsk
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"price": fmt.Sprintf("%g", price)})
	})
	return httptest.NewServer(mux)
}

func TestArbitrageScanSizesLegsBySpecWorkedExample(t *testing.T) {
	t.Parallel()

	server := arbTestServer(t, 0.45, 0.52)
	defer server.Close()

	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: server.URL}}
	auth, err := exchange.NewAuth(config.Config{Wallet: config.WalletConfig{PrivateKey: "0x1111111111111111111111111111111111111111111111111111111111111111", ChainID: 137}})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	client := exchange.NewClient(cfg, auth, testArbLogger())

	arb := NewArbitrage(client, eventbus.New(testArbLogger()), config.ArbitrageConfig{MinProfitUSD: 0.01, MaxTradeSizeUSD: 10}, testArbLogger())

	signals, err := arb.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("want 2 signals, got %d", len(signals))
	}

	var yesSig, noSig types.Signal
	for _, s := range signals {
		if s.TokenID == "yes-token" {
			yesSig = s
		} else {
			noSig = s
		}
	}

	if got, want := yesSig.Size, 10*(1-0.52); !closeEnough(got, want) {
		t.Errorf("yes leg size = %.4f, want %.4f (10*(1-noAsk))", got, want)
	}
	if got, want := noSig.Size, 10*(1-0.45); !closeEnough(got, want) {
		t.Errorf("no leg size = %.4f, want %.4f (10*(1-yesAsk))", got, want)
	}
	if yesSig.OrderType != types.OrderTypeFOK || noSig.OrderType != types.OrderTypeFOK {
		t.Error("arbitrage legs must be FOK")
	}
}

func TestArbitrageScanSkipsBelowMinProfit(t *testing.T) {
	t.Parallel()

	// cost = 0.50 + 0.51 = 1.01 > 1.0: no arbitrage opportunity.
	server := arbTestServer(t, 0.50, 0.51)
	defer server.Close()

	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: server.URL}}
	auth, err := exchange.NewAuth(config.Config{Wallet: config.WalletConfig{PrivateKey: "0x1111111111111111111111111111111111111111111111111111111111111111", ChainID: 137}})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	client := exchange.NewClient(cfg, auth, testArbLogger())

	arb := NewArbitrage(client, eventbus.New(testArbLogger()), config.ArbitrageConfig{MinProfitUSD: 0.01, MaxTradeSizeUSD: 10}, testArbLogger())

	signals, err := arb.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("want 0 signals when cost sum exceeds 1.0, got %d", len(signals))
	}
}

func TestArbitrageScanInterval(t *testing.T) {
	t.Parallel()
	arb := NewArbitrage(nil, nil, config.ArbitrageConfig{}, testArbLogger())
	if arb.ScanInterval() != 20*time.Second {
		t.Fatalf("default scan interval = %v, want 20s", arb.ScanInterval())
	}
}

func closeEnough(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
