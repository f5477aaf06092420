// Package exchange defines the capability interface every trading venue
// adapter must implement, plus the normalized order/fill types the
// reconciliation core consumes. Concrete venues live in subpackages
// (bitstamp, coinbase) and are selected at startup; the core depends only
// on this interface.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the venue-side direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderHandle is the venue's acknowledgement of a submitted order. The
// order is not necessarily filled yet; fills surface through
// UserTransactions.
type OrderHandle struct {
	ID string
}

// Fill is one entry of a venue's transaction history, normalized across
// venues. OrderID links it back to the submitted order.
type Fill struct {
	TxID       string
	OrderID    string
	ExecutedAt time.Time
	Fiat       decimal.Decimal
	Btc        decimal.Decimal
	Fee        decimal.Decimal
}

// Order is the consolidated result of one completed exchange trade.
// Produced by the settlement poller once a fill is visible; immutable
// afterward.
type Order struct {
	OrderID    string
	TxID       string
	Side       Side
	ExecutedAt time.Time
	FiatTotal  decimal.Decimal
	BtcTotal   decimal.Decimal
	Fee        decimal.Decimal
}

// Balance is the venue account balance snapshot.
type Balance struct {
	BtcAvailable  decimal.Decimal
	FiatAvailable decimal.Decimal
	TradeFee      decimal.Decimal
}

// Exchange is the uniform trading capability the reconciliation core
// requires from every venue adapter. All monetary values are decimals;
// adapters must never hand back binary floats.
type Exchange interface {
	Name() string

	// LastPrice returns the venue's most recent trade price for BTC in
	// the configured fiat currency.
	LastPrice(ctx context.Context) (decimal.Decimal, error)

	// MinimumOrder returns the smallest tradable BTC size the venue
	// currently accepts.
	MinimumOrder(ctx context.Context) (decimal.Decimal, error)

	// Buy and Sell submit a limit order and return its handle. They do
	// not wait for the fill.
	Buy(ctx context.Context, amount, price decimal.Decimal) (OrderHandle, error)
	Sell(ctx context.Context, amount, price decimal.Decimal) (OrderHandle, error)

	// Withdraw sends BTC from the venue account to the given address.
	Withdraw(ctx context.Context, amount decimal.Decimal, address string) error

	// UserTransactions lists recent fills on the account, newest first.
	UserTransactions(ctx context.Context) ([]Fill, error)

	Balance(ctx context.Context) (Balance, error)
	DepositAddress(ctx context.Context) (string, error)

	// RequiredConfirmations is the number of blockchain confirmations the
	// venue demands before a forwarded deposit may be liquidated.
	RequiredConfirmations() int
}
