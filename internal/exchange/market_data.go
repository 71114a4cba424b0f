package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"polymarket-mm/pkg/types"
)

// GetPrice fetches the best price for one side of a token's book. side is
// "BUY" or "SELL" as the CLOB API expects it (the price a buyer/seller
// would currently get, not our own order side).
func (c *Client) GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"token_id": tokenID, "side": string(side)}).
		SetResult(&result).
		Get("/price")
	if err != nil {
		return 0, fmt.Errorf("get price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get price: status %d: %s", resp.StatusCode(), resp.String())
	}

	var price float64
	if _, err := fmt.Sscanf(result.Price, "%g", &price); err != nil {
		return 0, fmt.Errorf("parse price %q: %w", result.Price, err)
	}
	return price, nil
}

// balanceResponse mirrors GET /balance-allowance.
type balanceResponse struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// AssetType selects which side of the CTF contract an allowance call
// targets.
type AssetType string

const (
	AssetCollateral AssetType = "COLLATERAL" // USDC
	AssetConditional AssetType = "CONDITIONAL" // outcome tokens
)

// GetBalance returns the free USDC collateral balance available to trade.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	headers, err := c.auth.L2Headers("GET", "/balance-allowance", "")
	if err != nil {
		return 0, fmt.Errorf("l2 headers: %w", err)
	}

	var result balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("asset_type", string(AssetCollateral)).
		SetResult(&result).
		Get("/balance-allowance")
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	var balance float64
	if _, err := fmt.Sscanf(result.Balance, "%g", &balance); err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}
	return balance, nil
}

// GetBalanceAllowance returns the raw balance/allowance pair for the given
// asset type (and token, for conditional tokens).
func (c *Client) GetBalanceAllowance(ctx context.Context, assetType AssetType, tokenID string) (balance, allowance float64, err error) {
	headers, err := c.auth.L2Headers("GET", "/balance-allowance", "")
	if err != nil {
		return 0, 0, fmt.Errorf("l2 headers: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("asset_type", string(assetType))
	if tokenID != "" {
		req.SetQueryParam("token_id", tokenID)
	}

	var result balanceResponse
	resp, err := req.SetResult(&result).Get("/balance-allowance")
	if err != nil {
		return 0, 0, fmt.Errorf("get balance allowance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, 0, fmt.Errorf("get balance allowance: status %d: %s", resp.StatusCode(), resp.String())
	}

	fmt.Sscanf(result.Balance, "%g", &balance)
	fmt.Sscanf(result.Allowance, "%g", &allowance)
	return balance, allowance, nil
}

// UpdateBalanceAllowance asks the exchange to refresh its cached
// balance/allowance for the given asset (and token, for conditional
// tokens), used before placing an order sized off a possibly-stale value.
func (c *Client) UpdateBalanceAllowance(ctx context.Context, assetType AssetType, tokenID string) error {
	if c.dryRun {
		return nil
	}
	headers, err := c.auth.L2Headers("GET", "/balance-allowance/update", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("asset_type", string(assetType))
	if tokenID != "" {
		req.SetQueryParam("token_id", tokenID)
	}

	resp, err := req.Get("/balance-allowance/update")
	if err != nil {
		return fmt.Errorf("update balance allowance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("update balance allowance: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// positionResponse mirrors one row of GET /positions (Data-API style).
type positionResponse struct {
	ConditionID string `json:"conditionId"`
	Asset       string `json:"asset"`
	Size        string `json:"size"`
	AvgPrice    string `json:"avgPrice"`
}

// GetPositions fetches every open position for address from the exchange
// and normalizes it to types.Position at the client boundary, so callers
// never deal with the raw string-encoded API shape.
func (c *Client) GetPositions(ctx context.Context, address string) ([]types.Position, error) {
	var raw []positionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user", address).
		SetResult(&raw).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Position, 0, len(raw))
	for _, r := range raw {
		var size, avgPrice float64
		fmt.Sscanf(r.Size, "%g", &size)
		fmt.Sscanf(r.AvgPrice, "%g", &avgPrice)
		out = append(out, types.Position{
			ConditionID:   r.ConditionID,
			TokenID:       r.Asset,
			Size:          size,
			AvgEntryPrice: avgPrice,
		})
	}
	return out, nil
}

// rewardMarketResponse mirrors one row of the Gamma rewards-markets page.
type rewardMarketToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
}

type rewardMarketResponse struct {
	ConditionID      string              `json:"conditionId"`
	Slug             string              `json:"slug"`
	Question         string              `json:"question"`
	Active           bool                `json:"active"`
	Closed           bool                `json:"closed"`
	EndDate          string              `json:"endDate"`
	MinTickSize      string              `json:"minimum_tick_size"`
	MinOrderSize     float64             `json:"rewardsMinSize"`
	RewardsDaily     float64             `json:"rewardsDailyRate"`
	RewardsMaxSpread float64             `json:"rewardsMaxSpread"`
	RewardsMinSize   float64             `json:"rewardsMinSize"`
	Liquidity        float64             `json:"liquidity"`
	Volume24h        float64             `json:"volume24hr"`
	Tokens           []rewardMarketToken `json:"tokens"`
}

// GetRewardMarkets pages through the Gamma API's liquidity-reward market
// listing. An empty nextCursor means the caller has reached the last page.
func (c *Client) GetRewardMarkets(ctx context.Context, cursor string) (markets []types.MarketInfo, nextCursor string, err error) {
	var page struct {
		Data       []rewardMarketResponse `json:"data"`
		NextCursor string                 `json:"next_cursor"`
	}
	req := c.http.R().SetContext(ctx).SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("next_cursor", cursor)
	}
	resp, err := req.Get("/rewards/markets")
	if err != nil {
		return nil, "", fmt.Errorf("get reward markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, "", fmt.Errorf("get reward markets: status %d: %s", resp.StatusCode(), resp.String())
	}

	markets = make([]types.MarketInfo, 0, len(page.Data))
	for _, m := range page.Data {
		info := types.MarketInfo{
			ConditionID:      m.ConditionID,
			Slug:             m.Slug,
			Question:         m.Question,
			Active:           m.Active,
			Closed:           m.Closed,
			Liquidity:        m.Liquidity,
			Volume24h:        m.Volume24h,
			RewardsMinSize:   m.RewardsMinSize,
			RewardsMaxSpread: m.RewardsMaxSpread,
			RewardsDailyRate: m.RewardsDaily,
			TickSize:         types.Tick001,
		}
		if m.MinTickSize != "" {
			info.TickSize = types.TickSize(m.MinTickSize)
		}
		if m.EndDate != "" {
			if t, perr := time.Parse(time.RFC3339, m.EndDate); perr == nil {
				info.EndDate = t
			}
		}
		for _, tok := range m.Tokens {
			switch strings.ToUpper(tok.Outcome) {
			case "YES":
				info.YesTokenID = tok.TokenID
			case "NO":
				info.NoTokenID = tok.TokenID
			}
		}
		markets = append(markets, info)
	}
	return markets, page.NextCursor, nil
}
