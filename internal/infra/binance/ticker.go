package binance

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"shadow_exchange/internal/engine"

	"github.com/gorilla/websocket"
)

// quoteSuffix is the quote asset every subscribed pair trades against.
const quoteSuffix = "USDT"

// combinedFrame is the envelope of a combined stream message.
type combinedFrame struct {
	Stream string         `json:"stream"`
	Data   *tickerPayload `json:"data"`
}

// tickerPayload is the subset of the 24hr ticker event we consume.
// Prices arrive as decimal strings.
type tickerPayload struct {
	Symbol             string `json:"s"` // BTCUSDT
	LastPrice          string `json:"c"`
	PriceChangePercent string `json:"P"`
}

// tickerHandler feeds one combined ticker connection into the price cache.
type tickerHandler struct {
	url    string
	writer *engine.PriceWriter
	now    func() time.Time
}

func (h *tickerHandler) ID() string     { return "BINANCE" }
func (h *tickerHandler) GetURL() string { return h.url }

// OnConnect needs no subscribe frame: the stream list is part of the URL.
func (h *tickerHandler) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

// OnPing keeps the connection warm with a control frame. Binance also pings
// us; gorilla answers those automatically while reading.
func (h *tickerHandler) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// OnMessage applies one ticker frame. Anything unrecognizable is dropped.
func (h *tickerHandler) OnMessage(ctx context.Context, msg []byte) {
	symbol, price, change, ok := parseTicker(msg)
	if !ok {
		return
	}
	h.writer.Apply(symbol, price, change, h.now())
}

// parseTicker extracts base symbol, last price and 24h change from a frame.
func parseTicker(msg []byte) (symbol string, price, change float64, ok bool) {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return "", 0, 0, false
	}
	d := frame.Data
	if d == nil || d.Symbol == "" || d.LastPrice == "" {
		return "", 0, 0, false
	}

	price, err := strconv.ParseFloat(d.LastPrice, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return "", 0, 0, false
	}
	// A missing or garbled change does not invalidate the price.
	change, err = strconv.ParseFloat(d.PriceChangePercent, 64)
	if err != nil || math.IsNaN(change) || math.IsInf(change, 0) {
		change = 0
	}

	symbol = strings.TrimSuffix(strings.ToUpper(d.Symbol), quoteSuffix)
	if symbol == "" {
		return "", 0, 0, false
	}
	return symbol, price, change, true
}
