package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

// bookTestServer serves a fixed one-level book for every token requested,
// with best bid/ask straddling mid.
func bookTestServer(t *testing.T, bestBid, bestAsk float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		resp := types.BookResponse{
			Bids: []types.PriceLevel{{Price: fmtPrice(bestBid), Size: "100"}},
			Asks: []types.PriceLevel{{Price: fmtPrice(bestAsk), Size: "100"}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func fmtPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func newTestLPSelector(t *testing.T, serverURL string, cfg config.LPConfig) *LPSelector {
	t.Helper()
	acfg := config.Config{API: config.APIConfig{CLOBBaseURL: serverURL}, Wallet: config.WalletConfig{PrivateKey: "0x1111111111111111111111111111111111111111111111111111111111111111", ChainID: 137}}
	auth, err := exchange.NewAuth(acfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	client := exchange.NewClient(acfg, auth, testArbLogger())
	return NewLPSelector(client, nil, nil, nil, nil, cfg, config.JitterConfig{}, testArbLogger())
}

func newTestLPSelectorWithGate(t *testing.T, serverURL string, cfg config.LPConfig, jitter config.JitterConfig, gate *risk.Gate) *LPSelector {
	t.Helper()
	acfg := config.Config{API: config.APIConfig{CLOBBaseURL: serverURL}, Wallet: config.WalletConfig{PrivateKey: "0x1111111111111111111111111111111111111111111111111111111111111111", ChainID: 137}}
	auth, err := exchange.NewAuth(acfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	client := exchange.NewClient(acfg, auth, testArbLogger())
	return NewLPSelector(client, nil, nil, nil, gate, cfg, jitter, testArbLogger())
}

// TestTryQuoteSideKeepsWithinMaxIncentiveSpread regression-tests the
// smart-refresh keep rule: a resting quote is preserved as long as it sits
// within the market's max_incentive_spread band, not merely because the
// midpoint barely moved.
func TestTryQuoteSideKeepsWithinMaxIncentiveSpread(t *testing.T) {
	t.Parallel()

	// mid = (0.50+0.52)/2 = 0.51; existing quote at 0.49 is 0.02 away,
	// which is within the market's 0.03 max spread band: keep.
	server := bookTestServer(t, 0.50, 0.52)
	defer server.Close()

	s := newTestLPSelector(t, server.URL, config.LPConfig{OrderSizeUSD: 20, MinBestBid: 0.05})
	m := types.MarketInfo{ConditionID: "cond-1", YesTokenID: "yes-token", NoTokenID: "no-token", RewardsMaxSpread: 0.03, TickSize: types.Tick001}
	existing := &liveLPQuote{TokenID: "yes-token", Outcome: "YES", Price: 0.49}

	sig := s.tryQuoteSide(context.Background(), m, "YES", existing)
	if sig != nil {
		t.Fatalf("expected nil (keep resting quote), got signal %+v", sig)
	}
}

// TestTryQuoteSideReplacesOutsideMaxIncentiveSpread confirms the same
// selector re-quotes once the existing order falls outside the band.
func TestTryQuoteSideReplacesOutsideMaxIncentiveSpread(t *testing.T) {
	t.Parallel()

	// mid = 0.51; existing quote at 0.40 is 0.11 away, outside the 0.03
	// max spread band: must replace.
	server := bookTestServer(t, 0.50, 0.52)
	defer server.Close()

	s := newTestLPSelector(t, server.URL, config.LPConfig{OrderSizeUSD: 20, MinBestBid: 0.05})
	m := types.MarketInfo{ConditionID: "cond-1", YesTokenID: "yes-token", NoTokenID: "no-token", RewardsMaxSpread: 0.03, TickSize: types.Tick001}
	existing := &liveLPQuote{TokenID: "yes-token", Outcome: "YES", Price: 0.40}

	sig := s.tryQuoteSide(context.Background(), m, "YES", existing)
	if sig == nil {
		t.Fatal("expected a replacement signal, got nil")
	}
}

// TestTryQuoteSideNoExistingQuotesFresh confirms a market with no resting
// order at all still gets quoted (the keep rule never fires without an
// existing quote to preserve).
func TestTryQuoteSideNoExistingQuotesFresh(t *testing.T) {
	t.Parallel()

	server := bookTestServer(t, 0.50, 0.52)
	defer server.Close()

	s := newTestLPSelector(t, server.URL, config.LPConfig{OrderSizeUSD: 20, MinBestBid: 0.05})
	m := types.MarketInfo{ConditionID: "cond-1", YesTokenID: "yes-token", NoTokenID: "no-token", RewardsMaxSpread: 0.03, TickSize: types.Tick001}

	sig := s.tryQuoteSide(context.Background(), m, "YES", nil)
	if sig == nil {
		t.Fatal("expected a fresh quote signal when there is no existing order")
	}
}

// TestTryQuoteSideSizesToRewardsMinSizeFloor confirms a market whose
// RewardsMinSize floor is larger than the configured order size still
// quotes at least that floor (inflated for size-jitter headroom), rather
// than quoting below the reward program's own minimum.
func TestTryQuoteSideSizesToRewardsMinSizeFloor(t *testing.T) {
	t.Parallel()

	server := bookTestServer(t, 0.50, 0.52)
	defer server.Close()

	// OrderSizeUSD=1 at price~0.49 buys ~2 shares; RewardsMinSize=50 must win.
	s := newTestLPSelectorWithGate(t, server.URL, config.LPConfig{OrderSizeUSD: 1, MinBestBid: 0.05}, config.JitterConfig{SizePct: 0.1}, nil)
	m := types.MarketInfo{ConditionID: "cond-1", YesTokenID: "yes-token", NoTokenID: "no-token", RewardsMaxSpread: 0.03, RewardsMinSize: 50, TickSize: types.Tick001}

	sig := s.tryQuoteSide(context.Background(), m, "YES", nil)
	if sig == nil {
		t.Fatal("expected a quote signal")
	}
	wantFloor := 50 / (1 - 0.1)
	if sig.Size < wantFloor-1e-9 {
		t.Fatalf("size = %v, want >= %v (RewardsMinSize floor with jitter headroom)", sig.Size, wantFloor)
	}
}

// TestTryQuoteSideSkipsWhenOverMaxPerMarket confirms a market requiring
// more notional than the risk gate's per-market exposure cap allows is
// skipped entirely rather than quoted oversized.
func TestTryQuoteSideSkipsWhenOverMaxPerMarket(t *testing.T) {
	t.Parallel()

	server := bookTestServer(t, 0.50, 0.52)
	defer server.Close()

	gate := risk.NewGate(risk.GateConfig{MaxPositionPerMarket: 5}, testArbLogger())
	s := newTestLPSelectorWithGate(t, server.URL, config.LPConfig{OrderSizeUSD: 1000, MinBestBid: 0.05}, config.JitterConfig{}, gate)
	m := types.MarketInfo{ConditionID: "cond-1", YesTokenID: "yes-token", NoTokenID: "no-token", RewardsMaxSpread: 0.03, TickSize: types.Tick001}

	sig := s.tryQuoteSide(context.Background(), m, "YES", nil)
	if sig != nil {
		t.Fatalf("expected the market to be skipped for exceeding the per-market cap, got %+v", sig)
	}
}
