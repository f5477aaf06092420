package bitstamp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultWSURL     = "wss://ws.bitstamp.net"
	liveTradeChannel = "live_trades_btcusd"

	reconnectDelay = 5 * time.Second
)

// PriceSink receives live trade prices, typically the orchestrator's
// price cache.
type PriceSink interface {
	SetPrice(price decimal.Decimal)
}

// TickerFeed streams Bitstamp's live trade channel into a PriceSink so
// the reconciliation cycle rarely has to hit the REST ticker. Optional;
// the engine works without it.
type TickerFeed struct {
	url    string
	sink   PriceSink
	logger *logrus.Logger
}

func NewTickerFeed(url string, sink PriceSink, logger *logrus.Logger) *TickerFeed {
	if url == "" {
		url = defaultWSURL
	}
	return &TickerFeed{url: url, sink: sink, logger: logger}
}

// Run connects, subscribes, and pushes prices until ctx is cancelled,
// reconnecting on any connection failure.
func (f *TickerFeed) Run(ctx context.Context) {
	for {
		if err := f.stream(ctx); err != nil && ctx.Err() == nil {
			f.logger.WithError(err).Warn("Ticker feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

type wsEvent struct {
	Event string `json:"event"`
	Data  struct {
		Price decimal.Decimal `json:"price_str"`
	} `json:"data"`
}

func (f *TickerFeed) stream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	subscribe := map[string]any{
		"event": "bts:subscribe",
		"data":  map[string]any{"channel": liveTradeChannel},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}
	f.logger.WithField("channel", liveTradeChannel).Info("Ticker feed subscribed")

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev wsEvent
		if json.Unmarshal(message, &ev) != nil {
			continue
		}
		if ev.Event != "trade" || ev.Data.Price.Sign() <= 0 {
			continue
		}
		f.sink.SetPrice(ev.Data.Price)
	}
}
