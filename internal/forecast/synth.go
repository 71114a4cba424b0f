// Package forecast is a small client for the Synth probability-forecast
// API (api.synthdata.co), the external-edge source for the synth-edge
// strategy (C14b). It mirrors internal/exchange's resty-with-retry
// client shape but is otherwise independent: forecasts carry no auth
// beyond a static bearer token, and there is nothing to rate-limit here.
package forecast

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Forecast is one asset's hourly up/down probability estimate from
// Synth, alongside Polymarket's own implied probability for the same
// market at the time of the call.
type Forecast struct {
	Asset       string
	SynthProbUp float64
	PolyProbUp  float64
	UpTokenID   string
	DownTokenID string
}

// Client fetches hourly up/down forecasts from the Synth API.
type Client struct {
	http *resty.Client
}

// NewClient creates a forecast client. apiKey may be empty in dry-run/
// paper-trading setups that don't have Synth access configured.
func NewClient(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

// GetHourlyUpDown fetches the hourly forecast for one asset symbol
// (e.g. "BTC", "ETH").
func (c *Client) GetHourlyUpDown(ctx context.Context, asset string) (Forecast, error) {
	var result struct {
		SynthProbabilityUp     float64 `json:"synth_probability_up"`
		PolymarketProbabilityUp float64 `json:"polymarket_probability_up"`
		UpTokenID              string  `json:"up_token_id"`
		DownTokenID            string  `json:"down_token_id"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("asset", strings.ToUpper(asset)).
		SetResult(&result).
		Get("/insights/polymarket/up-down/hourly")
	if err != nil {
		return Forecast{}, fmt.Errorf("get hourly up/down: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Forecast{}, fmt.Errorf("get hourly up/down: status %d: %s", resp.StatusCode(), resp.String())
	}

	return Forecast{
		Asset:       strings.ToUpper(asset),
		SynthProbUp: result.SynthProbabilityUp,
		PolyProbUp:  result.PolymarketProbabilityUp,
		UpTokenID:   result.UpTokenID,
		DownTokenID: result.DownTokenID,
	}, nil
}
