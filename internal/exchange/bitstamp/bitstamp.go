// Package bitstamp implements the exchange capability against the
// Bitstamp REST API.
package bitstamp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/satoshipoint/reconciler/internal/exchange"
)

const (
	// Bitstamp rejects fiat orders under $5; the BTC minimum is derived
	// from it at the current price.
	minimumOrderFiat = 5

	requiredConfirmations = 6
)

// Config holds Bitstamp API credentials and endpoints.
type Config struct {
	BaseURL   string
	TickerURL string
	ClientID  string
	APIKey    string
	Secret    string
}

// Bitstamp is one adapter instance per process, constructed explicitly
// from config and passed where needed.
type Bitstamp struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger

	now func() time.Time
}

func New(cfg Config, logger *logrus.Logger) *Bitstamp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.bitstamp.net/api"
	}
	if cfg.TickerURL == "" {
		cfg.TickerURL = "https://www.bitstamp.net/api/ticker/"
	}
	return &Bitstamp{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 10),
		logger:  logger,
		now:     time.Now,
	}
}

func (b *Bitstamp) Name() string { return "bitstamp" }

func (b *Bitstamp) RequiredConfirmations() int { return requiredConfirmations }

type tickerResponse struct {
	Last decimal.Decimal `json:"last"`
}

// LastPrice fetches the public ticker. Freshness caching is the caller's
// concern.
func (b *Bitstamp) LastPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.TickerURL, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bitstamp ticker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("bitstamp ticker: status %d", resp.StatusCode)
	}

	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, fmt.Errorf("bitstamp ticker: %w", err)
	}
	return ticker.Last, nil
}

// MinimumOrder derives the smallest tradable BTC size from Bitstamp's $5
// fiat minimum at the current price, truncated down to 8 decimal places
// so the fiat value never dips under the venue's floor.
func (b *Bitstamp) MinimumOrder(ctx context.Context) (decimal.Decimal, error) {
	price, err := b.LastPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("bitstamp minimum order: non-positive last price %s", price)
	}
	return decimal.NewFromInt(minimumOrderFiat).DivRound(price, 9).RoundDown(8), nil
}

type orderResponse struct {
	ID json.Number `json:"id"`
}

func (b *Bitstamp) Buy(ctx context.Context, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	return b.placeOrder(ctx, "/buy/", amount, price)
}

func (b *Bitstamp) Sell(ctx context.Context, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	return b.placeOrder(ctx, "/sell/", amount, price)
}

func (b *Bitstamp) placeOrder(ctx context.Context, path string, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	params := url.Values{}
	params.Set("amount", amount.StringFixed(8))
	params.Set("price", price.StringFixed(2))

	var order orderResponse
	if err := b.post(ctx, path, params, &order); err != nil {
		return exchange.OrderHandle{}, fmt.Errorf("bitstamp %s: %w", strings.Trim(path, "/"), err)
	}
	return exchange.OrderHandle{ID: order.ID.String()}, nil
}

func (b *Bitstamp) Withdraw(ctx context.Context, amount decimal.Decimal, address string) error {
	params := url.Values{}
	params.Set("amount", amount.StringFixed(8))
	params.Set("address", address)

	var ack struct {
		ID json.Number `json:"id"`
	}
	if err := b.post(ctx, "/bitcoin_withdrawal/", params, &ack); err != nil {
		return fmt.Errorf("bitstamp withdrawal: %w", err)
	}
	return nil
}

// fillPayload is one row of /user_transactions/. Bitstamp reports the
// fiat column under the currency name.
type fillPayload struct {
	ID       json.Number     `json:"id"`
	OrderID  json.Number     `json:"order_id"`
	Datetime string          `json:"datetime"`
	USD      decimal.Decimal `json:"usd"`
	Btc      decimal.Decimal `json:"btc"`
	Fee      decimal.Decimal `json:"fee"`
}

func (b *Bitstamp) UserTransactions(ctx context.Context) ([]exchange.Fill, error) {
	var payload []fillPayload
	if err := b.post(ctx, "/user_transactions/", url.Values{}, &payload); err != nil {
		return nil, fmt.Errorf("bitstamp user transactions: %w", err)
	}

	fills := make([]exchange.Fill, 0, len(payload))
	for _, p := range payload {
		executedAt, err := time.Parse("2006-01-02 15:04:05", p.Datetime)
		if err != nil {
			executedAt = time.Time{}
		}
		fills = append(fills, exchange.Fill{
			TxID:       p.ID.String(),
			OrderID:    p.OrderID.String(),
			ExecutedAt: executedAt,
			Fiat:       p.USD,
			Btc:        p.Btc,
			Fee:        p.Fee,
		})
	}
	return fills, nil
}

func (b *Bitstamp) Balance(ctx context.Context) (exchange.Balance, error) {
	var payload struct {
		BtcAvailable decimal.Decimal `json:"btc_available"`
		USDAvailable decimal.Decimal `json:"usd_available"`
		Fee          decimal.Decimal `json:"fee"`
	}
	if err := b.post(ctx, "/balance/", url.Values{}, &payload); err != nil {
		return exchange.Balance{}, fmt.Errorf("bitstamp balance: %w", err)
	}
	return exchange.Balance{
		BtcAvailable:  payload.BtcAvailable,
		FiatAvailable: payload.USDAvailable,
		TradeFee:      payload.Fee,
	}, nil
}

func (b *Bitstamp) DepositAddress(ctx context.Context) (string, error) {
	var address string
	if err := b.post(ctx, "/bitcoin_deposit_address/", url.Values{}, &address); err != nil {
		return "", fmt.Errorf("bitstamp deposit address: %w", err)
	}
	return address, nil
}

// post signs and sends a private API call. The signature is HMAC-SHA256
// of nonce+clientID+apiKey over the API secret, hex uppercased.
func (b *Bitstamp) post(ctx context.Context, path string, params url.Values, v any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	nonce := strconv.FormatInt(b.now().UnixMicro(), 10)
	mac := hmac.New(sha256.New, []byte(b.cfg.Secret))
	mac.Write([]byte(nonce + b.cfg.ClientID + b.cfg.APIKey))

	params.Set("key", b.cfg.APIKey)
	params.Set("signature", strings.ToUpper(hex.EncodeToString(mac.Sum(nil))))
	params.Set("nonce", nonce)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path,
		strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Bitstamp reports application errors inside a 200 response.
	var apiErr struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && len(apiErr.Error) > 0 {
		return fmt.Errorf("api error: %s", apiErr.Error)
	}

	return json.Unmarshal(body, v)
}
