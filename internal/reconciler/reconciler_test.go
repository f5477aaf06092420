package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satoshipoint/reconciler/internal/model"
)

func newTestReconciler(venue *fakeExchange, ledger *fakeLedger, repo *fakeRepo, pub Publisher, batch bool) *Reconciler {
	return New(venue, ledger, repo, pub, testLogger(), Config{
		BatchMode: batch,
		PriceTTL:  5 * time.Minute,
		Settler:   fastSettler(),
	})
}

func TestRunIngestsKioskActivity(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("t1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ingested)
	assert.NotEmpty(t, summary.RunID)
	assert.Contains(t, repo.ledger, "t1")
}

func TestRunSendBuysAndWithdraws(t *testing.T) {
	venue := newFakeExchange()
	venue.price = d("650.00")
	repo := newFakeRepo()
	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("send-1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)

	// Bought at the marked-up price and withdrew to the kiosk wallet.
	require.Len(t, venue.buyCalls, 1)
	assert.True(t, venue.buyCalls[0].amount.Equal(d("0.01")))
	assert.True(t, venue.buyCalls[0].price.Equal(d("715.00")))
	require.Len(t, venue.withdraws, 1)
	assert.Equal(t, "kiosk-address", venue.withdraws[0].address)

	rec, ok := repo.reconciled["send-1"]
	require.True(t, ok)
	assert.True(t, rec.AllocatedBtc.Equal(d("0.01")))
	assert.True(t, repo.ledger["send-1"].Processed)
}

func TestRunForwardSells(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	ledger := &fakeLedger{
		txs: []model.LedgerTransaction{
			func() model.LedgerTransaction {
				tx := ledgerTx("fwd-1", model.DirectionForward, "0.01")
				tx.Confirmations = intPtr(6)
				return tx
			}(),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)

	require.Len(t, venue.sellCalls, 1)
	assert.True(t, venue.sellCalls[0].price.Equal(d("585.00")))
	assert.Empty(t, venue.withdraws, "sells never withdraw")
}

func TestRunGatesUnconfirmedForwards(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()

	unconfirmed := ledgerTx("fwd-null", model.DirectionForward, "0.01")
	low := ledgerTx("fwd-low", model.DirectionForward, "0.01")
	low.Confirmations = intPtr(5)
	ready := ledgerTx("fwd-ready", model.DirectionForward, "0.01")
	ready.Confirmations = intPtr(6)

	ledger := &fakeLedger{txs: []model.LedgerTransaction{unconfirmed, low, ready}}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Settled)
	assert.Contains(t, repo.reconciled, "fwd-ready")
	assert.NotContains(t, repo.reconciled, "fwd-null")
	assert.NotContains(t, repo.reconciled, "fwd-low")
}

func TestRunIsIdempotent(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("t1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, venue.buyCalls, 1)

	// Everything is reconciled: a re-run must not touch the exchange.
	venue.tradeCalled = false
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Settled)
	assert.False(t, venue.tradeCalled, "re-run over settled ledger must not trade")
	assert.Len(t, venue.buyCalls, 1)
}

func TestRunBatchModeConsolidates(t *testing.T) {
	venue := newFakeExchange()
	venue.minimum = d("0.011")
	repo := newFakeRepo()

	var txs []model.LedgerTransaction
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		txs = append(txs, ledgerTx(id, model.DirectionSend, "-0.004"))
	}
	ledger := &fakeLedger{depositAddress: "kiosk-address", txs: txs}

	engine := newTestReconciler(venue, ledger, repo, nil, true)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	// One consolidated buy of 0.012 BTC; s4 deferred to the next cycle.
	require.Len(t, venue.buyCalls, 1)
	assert.True(t, venue.buyCalls[0].amount.Equal(d("0.012")))
	assert.Equal(t, 3, summary.Settled)
	assert.Equal(t, 1, summary.Leftover)
	assert.NotContains(t, repo.reconciled, "s4")
	assert.False(t, repo.ledger["s4"].Processed)

	// The deferred transaction settles once enough volume accumulates.
	ledger.txs = append(ledger.txs,
		ledgerTx("s5", model.DirectionSend, "-0.004"),
		ledgerTx("s6", model.DirectionSend, "-0.004"),
	)
	summary, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Settled)
	assert.Contains(t, repo.reconciled, "s4")
}

func TestRunBatchModeBothDirections(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()

	var txs []model.LedgerTransaction
	for _, id := range []string{"s1", "s2", "s3"} {
		txs = append(txs, ledgerTx(id, model.DirectionSend, "-0.004"))
	}
	for _, id := range []string{"f1", "f2", "f3"} {
		tx := ledgerTx(id, model.DirectionForward, "0.004")
		tx.Confirmations = intPtr(6)
		txs = append(txs, tx)
	}
	ledger := &fakeLedger{depositAddress: "kiosk-address", txs: txs}

	engine := newTestReconciler(venue, ledger, repo, nil, true)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, venue.buyCalls, 1)
	require.Len(t, venue.sellCalls, 1)
	assert.True(t, venue.buyCalls[0].amount.Equal(d("0.012")))
	assert.True(t, venue.sellCalls[0].amount.Equal(d("0.012")))
	assert.Equal(t, 6, summary.Settled)
}

func TestRunAllocatesBatchProportionally(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()

	txs := []model.LedgerTransaction{
		ledgerTx("s1", model.DirectionSend, "-0.008"),
		ledgerTx("s2", model.DirectionSend, "-0.008"),
	}
	ledger := &fakeLedger{depositAddress: "kiosk-address", txs: txs}

	engine := newTestReconciler(venue, ledger, repo, nil, true)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	// 0.016 BTC bought at 715.00 is 11.44; each half-share is 5.72.
	rec1 := repo.reconciled["s1"]
	rec2 := repo.reconciled["s2"]
	assert.True(t, rec1.AllocatedFiat.Equal(d("5.72")), "got %s", rec1.AllocatedFiat)
	assert.True(t, rec2.AllocatedFiat.Equal(d("5.72")), "got %s", rec2.AllocatedFiat)
	assert.True(t, rec1.AllocatedBtc.Equal(d("0.008")))
}

func TestRunRetriesPersistence(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	repo.saveExchangeFail = 2

	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("t1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	// Keep the retry backoff short for the test.
	engine.retrier = newFastRetrier()

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)
	assert.Contains(t, repo.reconciled, "t1")
}

func TestRunSurfacesPersistenceFailure(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	repo.saveExchangeErr = errors.New("db down")

	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("t1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	engine.retrier = newFastRetrier()

	_, err := engine.Run(context.Background())
	assert.True(t, IsKind(err, KindPersistenceFailed))
	// The trade happened; only the record is missing.
	assert.Len(t, venue.buyCalls, 1)
}

func TestRunPublishesSettlementEvents(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	pub := &fakePublisher{}
	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("t1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, pub, false)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "t1", pub.events[0].LedgerTxID)
	assert.Equal(t, summary.RunID, pub.events[0].RunID)
	assert.Equal(t, "buy", pub.events[0].Side)
}

func TestRunPublishFailureDoesNotFailCycle(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()
	pub := &fakePublisher{err: errors.New("broker away")}
	ledger := &fakeLedger{
		depositAddress: "kiosk-address",
		txs: []model.LedgerTransaction{
			ledgerTx("t1", model.DirectionSend, "-0.01"),
		},
	}

	engine := newTestReconciler(venue, ledger, repo, pub, false)
	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Settled)
	assert.Contains(t, repo.reconciled, "t1")
}

func TestRunUsesCachedPriceWithinWindow(t *testing.T) {
	venue := newFakeExchange()
	repo := newFakeRepo()

	txs := []model.LedgerTransaction{
		ledgerTx("s1", model.DirectionSend, "-0.01"),
		ledgerTx("s2", model.DirectionSend, "-0.01"),
	}
	ledger := &fakeLedger{depositAddress: "kiosk-address", txs: txs}

	engine := newTestReconciler(venue, ledger, repo, nil, false)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, venue.priceCalls, "one ticker fetch serves the whole cycle")
}
