// Package kiwoom is the brokerage adapter: a REST client for orders,
// balances and candles, plus the websocket fill feed.
package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/types"
)

type Params struct {
	Mode      string // DRY_RUN or LIVE
	BaseURL   string
	FeedURL   string
	AppKey    string
	AppSecret string
	Account   string
	Timeout   time.Duration
}

// Broker rejection codes that map to typed errors. Anything else surfaces
// as a generic rejection and the controller restricts the symbol.
const (
	codeInsufficientFunds = "RC4020"
	codeRestricted        = "RC4030"
)

type Kiwoom struct {
	p      Params
	client *http.Client
}

var _ interfaces.Broker = (*Kiwoom)(nil)

func New(p Params) *Kiwoom {
	if p.Timeout == 0 {
		p.Timeout = 10 * time.Second
	}
	return &Kiwoom{
		p:      p,
		client: &http.Client{Timeout: p.Timeout},
	}
}

type orderPayload struct {
	Account string  `json:"account"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Qty     int     `json:"qty"`
	Price   float64 `json:"price"`
	Market  bool    `json:"market"`
}

type orderReply struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (k *Kiwoom) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	if k.p.Mode == "DRY_RUN" {
		return types.OrderResponse{
			OrderID: fmt.Sprintf("SIM-%d", time.Now().UnixNano()),
			Status:  "SIMULATED",
			Message: "dry-run",
		}, nil
	}

	payload := orderPayload{
		Account: k.p.Account,
		Symbol:  req.Symbol,
		Side:    string(req.Side),
		Qty:     req.Qty,
		Price:   req.Price,
		Market:  req.Market,
	}
	var reply orderReply
	if err := k.post(ctx, "/v1/orders", payload, &reply); err != nil {
		return types.OrderResponse{}, err
	}
	if reply.Code != "" {
		return types.OrderResponse{}, rejectionError(reply.Code, reply.Message)
	}
	return types.OrderResponse{OrderID: reply.OrderID, Status: reply.Status, Message: reply.Message}, nil
}

func rejectionError(code, message string) error {
	switch code {
	case codeInsufficientFunds:
		return fmt.Errorf("%s: %w", message, types.ErrInsufficientFunds)
	case codeRestricted:
		return fmt.Errorf("%s: %w", message, types.ErrInstrumentRestricted)
	default:
		return fmt.Errorf("broker rejected order (%s): %s", code, message)
	}
}

type holdingRow struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Qty          int     `json:"qty"`
	AvgBuyPrice  float64 `json:"avg_buy_price"`
	CurrentPrice float64 `json:"current_price"`
}

func (k *Kiwoom) Balance(ctx context.Context) ([]types.Holding, error) {
	var rows []holdingRow
	q := url.Values{"account": {k.p.Account}}
	if err := k.get(ctx, "/v1/balance", q, &rows); err != nil {
		return nil, err
	}
	out := make([]types.Holding, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Holding{
			Symbol:       r.Symbol,
			Name:         r.Name,
			Qty:          r.Qty,
			AvgBuyPrice:  r.AvgBuyPrice,
			CurrentPrice: r.CurrentPrice,
		})
	}
	return out, nil
}

type brokerOrderRow struct {
	OrderID     string  `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Qty         int     `json:"qty"`
	UnfilledQty int     `json:"unfilled_qty"`
	Price       float64 `json:"price"`
	At          int64   `json:"at"`
}

func (k *Kiwoom) OrderHistory(ctx context.Context) ([]types.BrokerOrder, error) {
	var rows []brokerOrderRow
	q := url.Values{"account": {k.p.Account}}
	if err := k.get(ctx, "/v1/orders", q, &rows); err != nil {
		return nil, err
	}
	out := make([]types.BrokerOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.BrokerOrder{
			OrderID:     r.OrderID,
			Symbol:      r.Symbol,
			Side:        types.OrderSide(r.Side),
			Qty:         r.Qty,
			UnfilledQty: r.UnfilledQty,
			Price:       r.Price,
			At:          time.Unix(r.At, 0),
		})
	}
	return out, nil
}

type candleRow struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Candles returns recent bars newest-first, as the evaluators expect.
func (k *Kiwoom) Candles(ctx context.Context, code string, period string, count int) ([]types.Candle, error) {
	var rows []candleRow
	q := url.Values{
		"code":   {code},
		"period": {period},
		"count":  {strconv.Itoa(count)},
	}
	if err := k.get(ctx, "/v1/candles", q, &rows); err != nil {
		return nil, err
	}
	out := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Candle{
			Ts: r.Ts, Open: r.Open, High: r.High, Low: r.Low,
			Close: r.Close, Volume: r.Volume,
		})
	}
	return out, nil
}

var _ interfaces.CandleService = (*Kiwoom)(nil)

func (k *Kiwoom) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	k.auth(req)
	return k.do(req, path, out)
}

func (k *Kiwoom) get(ctx context.Context, path string, q url.Values, out any) error {
	u := k.p.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	k.auth(req)
	return k.do(req, path, out)
}

func (k *Kiwoom) auth(req *http.Request) {
	req.Header.Set("appkey", k.p.AppKey)
	req.Header.Set("appsecret", k.p.AppSecret)
}

func (k *Kiwoom) do(req *http.Request, op string, out any) error {
	resp, err := k.client.Do(req)
	if err != nil {
		return &types.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, types.ErrRateLimited)
	case resp.StatusCode >= 500:
		return &types.TransientError{Op: op, Err: fmt.Errorf("server status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
