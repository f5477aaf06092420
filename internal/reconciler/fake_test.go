package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/satoshipoint/reconciler/internal/events"
	"github.com/satoshipoint/reconciler/internal/exchange"
	"github.com/satoshipoint/reconciler/internal/faulttolerance"
	"github.com/satoshipoint/reconciler/internal/model"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(i int) *int { return &i }

// fakeExchange is an in-memory venue. Submitted orders become visible as
// fills through UserTransactions after fillDelay polls, the way a real
// venue's history lags the order endpoint.
type fakeExchange struct {
	mu sync.Mutex

	price     decimal.Decimal
	minimum   decimal.Decimal
	fee       decimal.Decimal
	fillDelay int

	buyErr      error
	sellErr     error
	withdrawErr error
	userTxErr   error

	orderSeq    int
	pending     []pendingOrder
	fills       []exchange.Fill
	pollCount   int
	buyCalls    []orderCall
	sellCalls   []orderCall
	withdraws   []withdrawCall
	priceCalls  int
	tradeCalled bool
}

type orderCall struct {
	amount decimal.Decimal
	price  decimal.Decimal
}

type withdrawCall struct {
	amount  decimal.Decimal
	address string
}

type pendingOrder struct {
	fill      exchange.Fill
	visibleAt int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		price:   d("650.00"),
		minimum: d("0.011"),
		fee:     decimal.Zero,
	}
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) RequiredConfirmations() int { return 6 }

func (f *fakeExchange) LastPrice(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	return f.price, nil
}

func (f *fakeExchange) MinimumOrder(ctx context.Context) (decimal.Decimal, error) {
	return f.minimum, nil
}

func (f *fakeExchange) Buy(ctx context.Context, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeCalled = true
	f.buyCalls = append(f.buyCalls, orderCall{amount: amount, price: price})
	if f.buyErr != nil {
		return exchange.OrderHandle{}, f.buyErr
	}
	return f.submit(amount, price), nil
}

func (f *fakeExchange) Sell(ctx context.Context, amount, price decimal.Decimal) (exchange.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradeCalled = true
	f.sellCalls = append(f.sellCalls, orderCall{amount: amount, price: price})
	if f.sellErr != nil {
		return exchange.OrderHandle{}, f.sellErr
	}
	return f.submit(amount, price), nil
}

// submit records a fill that becomes visible after fillDelay history polls.
func (f *fakeExchange) submit(amount, price decimal.Decimal) exchange.OrderHandle {
	f.orderSeq++
	id := fmt.Sprintf("order-%d", f.orderSeq)
	f.pending = append(f.pending, pendingOrder{
		fill: exchange.Fill{
			TxID:       fmt.Sprintf("tx-%d", f.orderSeq),
			OrderID:    id,
			ExecutedAt: time.Date(2014, 6, 13, 12, 34, 45, 0, time.UTC),
			Fiat:       amount.Mul(price),
			Btc:        amount,
			Fee:        f.fee,
		},
		visibleAt: f.pollCount + f.fillDelay,
	})
	return exchange.OrderHandle{ID: id}
}

func (f *fakeExchange) Withdraw(ctx context.Context, amount decimal.Decimal, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withdrawErr != nil {
		return f.withdrawErr
	}
	f.withdraws = append(f.withdraws, withdrawCall{amount: amount, address: address})
	return nil
}

func (f *fakeExchange) UserTransactions(ctx context.Context) ([]exchange.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userTxErr != nil {
		return nil, f.userTxErr
	}
	f.pollCount++
	var visible []exchange.Fill
	visible = append(visible, f.fills...)
	for _, p := range f.pending {
		if f.pollCount > p.visibleAt {
			visible = append(visible, p.fill)
		}
	}
	return visible, nil
}

func (f *fakeExchange) Balance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{}, nil
}

func (f *fakeExchange) DepositAddress(ctx context.Context) (string, error) {
	return "exchange-address", nil
}

// fakeLedger is an in-memory kiosk feed.
type fakeLedger struct {
	txs            []model.LedgerTransaction
	depositAddress string
	sinceSeen      time.Time
}

func (f *fakeLedger) GetTransactions(ctx context.Context, since time.Time) ([]model.LedgerTransaction, error) {
	f.sinceSeen = since
	return f.txs, nil
}

func (f *fakeLedger) GetAccountInfo(ctx context.Context) (model.AccountInfo, error) {
	return model.AccountInfo{DepositAddress: f.depositAddress}, nil
}

// fakeRepo is an in-memory persistence gateway with the same idempotence
// contract as the gorm implementation.
type fakeRepo struct {
	ledger     map[string]model.LedgerTransaction
	reconciled map[string]model.ReconciledTransaction
	order      []string

	saveExchangeErr  error
	saveExchangeFail int // fail this many calls before succeeding
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		ledger:     make(map[string]model.LedgerTransaction),
		reconciled: make(map[string]model.ReconciledTransaction),
	}
}

func (f *fakeRepo) FindUnprocessed() ([]model.LedgerTransaction, error) {
	var out []model.LedgerTransaction
	for _, id := range f.order {
		tx := f.ledger[id]
		if !tx.Processed {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeRepo) Save(tx *model.LedgerTransaction) error {
	if existing, ok := f.ledger[tx.LedgerTxID]; ok {
		existing.Confirmations = tx.Confirmations
		f.ledger[tx.LedgerTxID] = existing
		return nil
	}
	f.ledger[tx.LedgerTxID] = *tx
	f.order = append(f.order, tx.LedgerTxID)
	return nil
}

func (f *fakeRepo) SaveExchangeTransaction(rec *model.ReconciledTransaction) error {
	if f.saveExchangeFail > 0 {
		f.saveExchangeFail--
		return errors.New("transient save failure")
	}
	if f.saveExchangeErr != nil {
		return f.saveExchangeErr
	}
	if _, ok := f.reconciled[rec.LedgerTxID]; !ok {
		f.reconciled[rec.LedgerTxID] = *rec
	}
	tx := f.ledger[rec.LedgerTxID]
	tx.Processed = true
	f.ledger[rec.LedgerTxID] = tx
	return nil
}

func (f *fakeRepo) FindLastTransactionTime() (time.Time, error) {
	var last time.Time
	for _, tx := range f.ledger {
		if tx.CreatedAt.After(last) {
			last = tx.CreatedAt
		}
	}
	return last, nil
}

// fakePublisher records settlement events.
type fakePublisher struct {
	events []events.SettlementEvent
	err    error
}

func (f *fakePublisher) PublishSettlement(ctx context.Context, ev events.SettlementEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

// newFastRetrier returns a retryer with millisecond backoff for tests.
func newFastRetrier() *faulttolerance.Retryer {
	return faulttolerance.NewRetryer(faulttolerance.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2.0,
		Name:        "test-persist",
	}, testLogger())
}

// fastSettler returns a settler config that keeps tests quick.
func fastSettler() SettlerConfig {
	return SettlerConfig{
		PollInterval:    time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
		Deadline:        250 * time.Millisecond,
	}
}
