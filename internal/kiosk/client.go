// Package kiosk is the client for the cash-kiosk network's operator API,
// the source of ledger transactions the engine reconciles.
package kiosk

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

	"github.com/satoshipoint/reconciler/internal/model"
)

// Config holds kiosk API connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Secret  string
}

// Client is a rate-limited, HMAC-signed HTTP client for the kiosk API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger

	// nonce source, swappable in tests
	now func() time.Time
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		logger:  logger,
		now:     time.Now,
	}
}

// transactionPayload is the kiosk API's wire representation of a ledger
// event. Monetary fields arrive as decimal strings.
type transactionPayload struct {
	TransactionID string `json:"transaction_id"`
	Action        string `json:"action"` // "send" or "forward"
	Fiat          string `json:"fiat"`
	Xbt           string `json:"xbt"`
	Fee           string `json:"fee"`
	MinersFee     string `json:"miners_fee"`
	Confirmations *int   `json:"confirmations"`
	Time          int64  `json:"time"` // unix milliseconds
}

// GetTransactions fetches ledger activity strictly after since.
func (c *Client) GetTransactions(ctx context.Context, since time.Time) ([]model.LedgerTransaction, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var payload []transactionPayload
	if err := c.post(ctx, "/transactions", params, &payload); err != nil {
		return nil, fmt.Errorf("kiosk transactions: %w", err)
	}

	txs := make([]model.LedgerTransaction, 0, len(payload))
	for _, p := range payload {
		tx, err := p.toModel()
		if err != nil {
			return nil, fmt.Errorf("kiosk transaction %s: %w", p.TransactionID, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetAccountInfo fetches the kiosk wallet details, including the deposit
// address purchased BTC is withdrawn to.
func (c *Client) GetAccountInfo(ctx context.Context) (model.AccountInfo, error) {
	var info model.AccountInfo
	if err := c.post(ctx, "/account", url.Values{}, &info); err != nil {
		return model.AccountInfo{}, fmt.Errorf("kiosk account info: %w", err)
	}
	return info, nil
}

func (p *transactionPayload) toModel() (model.LedgerTransaction, error) {
	fiat, err := parseDecimal(p.Fiat)
	if err != nil {
		return model.LedgerTransaction{}, fmt.Errorf("fiat: %w", err)
	}
	xbt, err := parseDecimal(p.Xbt)
	if err != nil {
		return model.LedgerTransaction{}, fmt.Errorf("xbt: %w", err)
	}
	fee, err := parseDecimal(p.Fee)
	if err != nil {
		return model.LedgerTransaction{}, fmt.Errorf("fee: %w", err)
	}
	minersFee, err := parseDecimal(p.MinersFee)
	if err != nil {
		return model.LedgerTransaction{}, fmt.Errorf("miners fee: %w", err)
	}

	direction := model.Direction(p.Action)
	switch direction {
	case model.DirectionSend, model.DirectionForward:
	default:
		return model.LedgerTransaction{}, fmt.Errorf("unknown action %q", p.Action)
	}

	return model.LedgerTransaction{
		LedgerTxID:    p.TransactionID,
		Direction:     direction,
		FiatAmount:    fiat,
		BtcAmount:     xbt,
		Fee:           fee,
		MinersFee:     minersFee,
		Confirmations: p.Confirmations,
		CreatedAt:     time.UnixMilli(p.Time).UTC(),
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// post sends a signed form POST and decodes the JSON response. The
// signature is an HMAC-SHA256 of nonce+apiKey over the shared secret, the
// scheme the kiosk network uses for operator endpoints.
func (c *Client) post(ctx context.Context, path string, params url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	nonce := strconv.FormatInt(c.now().UnixMicro(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(nonce + c.cfg.APIKey))

	params.Set("key", c.cfg.APIKey)
	params.Set("nonce", nonce)
	params.Set("signature", strings.ToUpper(hex.EncodeToString(mac.Sum(nil))))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path,
		strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
