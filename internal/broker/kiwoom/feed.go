package kiwoom

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/types"

	"github.com/gorilla/websocket"
)

// Field codes used by the realtime feed. Messages carry a values map keyed
// by these codes, all string-encoded.
const (
	fidOrderNo     = "9203"
	fidOrderQty    = "900"
	fidFilledQty   = "911"
	fidUnfilledQty = "902"
	fidFillPrice   = "910"
	fidSide        = "907" // 1 = sell, 2 = buy
	fidSymbol      = "9001"
	fidPrice       = "10"
)

// Feed is the push channel of field-coded fill and tick messages. It owns
// a single websocket connection with read/write pumps, a ping keepalive
// and a stale-connection watchdog; on reconnect it replays the last
// subscription set.
type Feed struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string
	started bool

	sendCh  chan []byte
	fillCh  chan types.FillEvent
	tickCh  chan types.Tick
	done    chan struct{}
	lastMsg time.Time

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
}

var _ interfaces.FillFeed = (*Feed)(nil)

func NewFeed(url string) *Feed {
	return &Feed{
		url:          url,
		sendCh:       make(chan []byte, 256),
		fillCh:       make(chan types.FillEvent, 256),
		tickCh:       make(chan types.Tick, 1024),
		done:         make(chan struct{}),
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		pingInterval: 20 * time.Second,
	}
}

func (f *Feed) Fills() <-chan types.FillEvent { return f.fillCh }
func (f *Feed) Ticks() <-chan types.Tick      { return f.tickCh }

func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.mu.Unlock()

	if err := f.dial(ctx); err != nil {
		return err
	}
	go f.readPump(ctx)
	go f.writePump(ctx)
	return nil
}

func (f *Feed) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return &types.TransientError{Op: "feed dial", Err: err}
	}
	f.mu.Lock()
	f.conn = conn
	f.lastMsg = time.Now()
	f.mu.Unlock()
	logger.Info(ctx, "Fill feed connected", "url", f.url)
	return nil
}

type subscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Subscribe replaces the active subscription set. The caller re-invokes it
// whenever the watch-list or holdings change; the set is also replayed
// after every reconnect.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	f.symbols = append([]string(nil), symbols...)
	f.mu.Unlock()
	return f.sendSubscription(symbols)
}

func (f *Feed) sendSubscription(symbols []string) error {
	msg, err := json.Marshal(subscribeMsg{Type: "REG", Symbols: symbols})
	if err != nil {
		return err
	}
	select {
	case f.sendCh <- msg:
		return nil
	case <-f.done:
		return &types.TransientError{Op: "feed subscribe", Err: context.Canceled}
	}
}

func (f *Feed) Stop(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return
	}
	f.started = false
	close(f.done)
	if f.conn != nil {
		_ = f.conn.Close()
	}
	logger.Info(ctx, "Fill feed stopped")
}

func (f *Feed) writePump(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return
		case msg := <-f.sendCh:
			conn := f.current()
			if conn == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn(ctx, "Feed write failed", "error", err.Error())
			}
		case <-ticker.C:
			conn := f.current()
			if conn == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn(ctx, "Feed ping failed", "error", err.Error())
			}
		}
	}
}

func (f *Feed) readPump(ctx context.Context) {
	watchdog := time.NewTicker(5 * time.Second)
	defer watchdog.Stop()

	go func() {
		for {
			select {
			case <-f.done:
				return
			case <-ctx.Done():
				return
			case <-watchdog.C:
				f.mu.Lock()
				stale := time.Since(f.lastMsg) > 3*f.readTimeout/4
				conn := f.conn
				f.mu.Unlock()
				if stale && conn != nil {
					logger.Warn(ctx, "Feed watchdog: no data, forcing reconnect")
					_ = conn.Close()
				}
			}
		}
	}()

	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn := f.current()
		if conn == nil {
			if !f.reconnect(ctx) {
				return
			}
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		conn.SetPongHandler(func(string) error {
			f.touch()
			return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		})

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			logger.Warn(ctx, "Feed read failed, reconnecting", "error", err.Error())
			f.clearConn(conn)
			if !f.reconnect(ctx) {
				return
			}
			continue
		}
		f.touch()
		f.decode(ctx, message)
	}
}

func (f *Feed) current() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *Feed) touch() {
	f.mu.Lock()
	f.lastMsg = time.Now()
	f.mu.Unlock()
}

func (f *Feed) clearConn(old *websocket.Conn) {
	_ = old.Close()
	f.mu.Lock()
	if f.conn == old {
		f.conn = nil
	}
	f.mu.Unlock()
}

// reconnect redials with backoff and replays the subscription set. Returns
// false when the feed is shutting down.
func (f *Feed) reconnect(ctx context.Context) bool {
	backoff := time.Second
	for {
		select {
		case <-f.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if err := f.dial(ctx); err != nil {
			logger.Warn(ctx, "Feed reconnect failed", "error", err.Error(), "retry_in", backoff.String())
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		f.mu.Lock()
		symbols := append([]string(nil), f.symbols...)
		f.mu.Unlock()
		if len(symbols) > 0 {
			_ = f.sendSubscription(symbols)
		}
		return true
	}
}

type feedMsg struct {
	Type   string            `json:"type"` // FILL or TICK
	Values map[string]string `json:"values"`
}

// decode parses one field-coded message and forwards it on the matching
// channel. Malformed messages are dropped with a diagnostic, never fatal.
func (f *Feed) decode(ctx context.Context, raw []byte) {
	var msg feedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warn(ctx, "Feed message unparseable, dropped", "error", err.Error())
		return
	}

	switch msg.Type {
	case "FILL":
		ev, ok := decodeFill(msg.Values)
		if !ok {
			logger.Warn(ctx, "Fill message missing required fields, dropped",
				"order_id", msg.Values[fidOrderNo], "symbol", msg.Values[fidSymbol])
			return
		}
		select {
		case f.fillCh <- ev:
		default:
			logger.Error(ctx, "Fill channel full, message dropped", "order_id", ev.OrderID)
		}
	case "TICK":
		symbol := msg.Values[fidSymbol]
		price := parseNum(msg.Values[fidPrice])
		if symbol == "" || price <= 0 {
			return
		}
		t := types.Tick{Symbol: symbol, Price: price, At: time.Now()}
		select {
		case f.tickCh <- t:
		default:
			// ticks are best-effort; the snapshot pass corrects any gap
		}
	}
}

func decodeFill(values map[string]string) (types.FillEvent, bool) {
	symbol := values[fidSymbol]
	orderID := values[fidOrderNo]
	if symbol == "" || orderID == "" {
		return types.FillEvent{}, false
	}
	var side types.OrderSide
	switch values[fidSide] {
	case "1":
		side = types.Sell
	case "2":
		side = types.Buy
	default:
		return types.FillEvent{}, false
	}
	// Order and unfilled quantity are mandatory: a missing unfilled count
	// would decode as 0, which the ledger reads as a complete fill.
	orderQty, okQty := parseNumField(values, fidOrderQty)
	unfilledQty, okUnfilled := parseNumField(values, fidUnfilledQty)
	if !okQty || !okUnfilled {
		return types.FillEvent{}, false
	}
	return types.FillEvent{
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         side,
		OrderQty:     int(orderQty),
		FilledQty:    int(parseNum(values[fidFilledQty])),
		UnfilledQty:  int(unfilledQty),
		AvgFillPrice: parseNum(values[fidFillPrice]),
		At:           time.Now(),
	}, true
}

func parseNumField(values map[string]string, fid string) (float64, bool) {
	s, ok := values[fid]
	if !ok {
		return 0, false
	}
	return parseNumOK(s)
}

// parseNum parses the feed's string-encoded numbers, which may carry a
// sign prefix on price fields. Unparseable input reads as 0; fields where
// 0 is dangerous go through parseNumOK instead.
func parseNum(s string) float64 {
	v, _ := parseNumOK(s)
	return v
}

func parseNumOK(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
