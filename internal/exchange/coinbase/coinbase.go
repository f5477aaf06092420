// Package coinbase implements the exchange capability against the
// Coinbase exchange REST API.
package coinbase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/satoshipoint/reconciler/internal/exchange"
)

const (
	productID = "BTC-USD"

	requiredConfirmations = 6
)

// Coinbase publishes a fixed BTC minimum rather than a fiat-derived one.
var minimumOrderBtc = decimal.RequireFromString("0.005")

// Config holds Coinbase API credentials and endpoints.
type Config struct {
	BaseURL    string
	APIKey     string
	Secret     string
	Passphrase string
	AccountID  string
}

type Coinbase struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger

	now func() time.Time
}

func New(cfg Config, logger *logrus.Logger) *Coinbase {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.exchange.coinbase.com"
	}
	return &Coinbase{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(3), 10),
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Coinbase) Name() string { return "coinbase" }

func (c *Coinbase) RequiredConfirmations() int { return requiredConfirmations }

func (c *Coinbase) MinimumOrder(ctx context.Context) (decimal.Decimal, error) {
	return minimumOrderBtc, nil
}

type tickerPayload struct {
	Price decimal.Decimal `json:"price"`
}

func (c *Coinbase) LastPrice(ctx context.Context) (decimal.Decimal, error) {
	var ticker tickerPayload
	path := fmt.Sprintf("/products/%s/ticker", productID)
	if err := c.call(ctx, http.MethodGet, path, nil, &ticker); err != nil {
		return decimal.Zero, fmt.Errorf("coinbase ticker: %w", err)
	}
	return ticker.Price, nil
}

type orderRequest struct {
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	ProductID string `json:"product_id"`
}

type orderPayload struct {
	ID string `json:"id"`
}

func (c *Coinbase) Buy(ctx context.Context, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	return c.placeOrder(ctx, "buy", amount, price)
}

func (c *Coinbase) Sell(ctx context.Context, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	return c.placeOrder(ctx, "sell", amount, price)
}

func (c *Coinbase) placeOrder(ctx context.Context, side string, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	req := orderRequest{
		Price:     price.StringFixed(2),
		Size:      amount.StringFixed(8),
		Side:      side,
		ProductID: productID,
	}

	var order orderPayload
	if err := c.call(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return exchange.OrderHandle{}, fmt.Errorf("coinbase %s: %w", side, err)
	}
	return exchange.OrderHandle{ID: order.ID}, nil
}

func (c *Coinbase) Withdraw(ctx context.Context, amount decimal.Decimal, address string) error {
	req := map[string]string{
		"amount":         amount.StringFixed(8),
		"currency":       "BTC",
		"crypto_address": address,
	}

	var ack struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/withdrawals/crypto", req, &ack); err != nil {
		return fmt.Errorf("coinbase withdrawal: %w", err)
	}
	return nil
}

// fillPayload is one row of /fills for our product.
type fillPayload struct {
	TradeID   json.Number     `json:"trade_id"`
	OrderID   string          `json:"order_id"`
	CreatedAt time.Time       `json:"created_at"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
}

func (c *Coinbase) UserTransactions(ctx context.Context) ([]exchange.Fill, error) {
	var payload []fillPayload
	path := fmt.Sprintf("/fills?product_id=%s", productID)
	if err := c.call(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("coinbase fills: %w", err)
	}

	fills := make([]exchange.Fill, 0, len(payload))
	for _, p := range payload {
		fills = append(fills, exchange.Fill{
			TxID:       p.TradeID.String(),
			OrderID:    p.OrderID,
			ExecutedAt: p.CreatedAt,
			Fiat:       p.Price.Mul(p.Size),
			Btc:        p.Size,
			Fee:        p.Fee,
		})
	}
	return fills, nil
}

type accountPayload struct {
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
}

func (c *Coinbase) Balance(ctx context.Context) (exchange.Balance, error) {
	var accounts []accountPayload
	if err := c.call(ctx, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return exchange.Balance{}, fmt.Errorf("coinbase accounts: %w", err)
	}

	var balance exchange.Balance
	for _, a := range accounts {
		switch a.Currency {
		case "BTC":
			balance.BtcAvailable = a.Available
		case "USD":
			balance.FiatAvailable = a.Available
		}
	}
	return balance, nil
}

func (c *Coinbase) DepositAddress(ctx context.Context) (string, error) {
	var payload struct {
		Address string `json:"address"`
	}
	path := fmt.Sprintf("/coinbase-accounts/%s/addresses", c.cfg.AccountID)
	if err := c.call(ctx, http.MethodPost, path, nil, &payload); err != nil {
		return "", fmt.Errorf("coinbase deposit address: %w", err)
	}
	return payload.Address, nil
}

// call signs and sends one API request. The signature covers
// timestamp+method+path+body with the API secret.
func (c *Coinbase) call(ctx context.Context, method, path string, body, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(timestamp + method + path))
	mac.Write(encoded)

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("CB-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
