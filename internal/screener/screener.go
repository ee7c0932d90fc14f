// Package screener is the condition-search client: it asks the brokerage
// screening service which symbols currently satisfy the configured
// conditions and feeds the results into the watch-list.
package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ interfaces.Screener = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRow struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"change_rate"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	HighPrice  float64 `json:"high_price"`
}

// Search runs every configured condition and returns the union of results,
// deduplicated by code. One failing condition degrades the result set; it
// does not fail the whole search unless every condition fails.
func (c *Client) Search(ctx context.Context, conditionIDs []string) ([]types.ScreenResult, error) {
	seen := make(map[string]bool)
	var out []types.ScreenResult
	var lastErr error
	failures := 0

	for _, id := range conditionIDs {
		rows, err := c.searchOne(ctx, id)
		if err != nil {
			failures++
			lastErr = err
			continue
		}
		for _, r := range rows {
			if seen[r.Code] {
				continue
			}
			seen[r.Code] = true
			out = append(out, types.ScreenResult{
				Code:       r.Code,
				Name:       r.Name,
				Price:      r.Price,
				ChangeRate: r.ChangeRate,
				Volume:     r.Volume,
				OpenPrice:  r.OpenPrice,
				HighPrice:  r.HighPrice,
			})
		}
	}

	if failures > 0 && failures == len(conditionIDs) {
		return nil, fmt.Errorf("all %d conditions failed: %w", failures, lastErr)
	}
	return out, nil
}

func (c *Client) searchOne(ctx context.Context, conditionID string) ([]searchRow, error) {
	u := c.baseURL + "/v1/conditions/search?" + url.Values{"id": {conditionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransientError{Op: "condition search", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("condition %s: %w", conditionID, types.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, &types.TransientError{Op: "condition search", Err: fmt.Errorf("server status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("condition %s: status %d: %s", conditionID, resp.StatusCode, string(b))
	}

	var rows []searchRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("condition %s: decode response: %w", conditionID, err)
	}
	return rows, nil
}
