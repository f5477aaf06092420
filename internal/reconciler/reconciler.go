// Package reconciler implements the reconciliation and batched settlement
// engine: it classifies pending kiosk ledger transactions, aggregates them
// into exchange-order-sized batches, executes the consolidated trades, and
// allocates each result back onto the contributing transactions before
// persisting.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/satoshipoint/reconciler/internal/events"
	"github.com/satoshipoint/reconciler/internal/exchange"
	"github.com/satoshipoint/reconciler/internal/faulttolerance"
	"github.com/satoshipoint/reconciler/internal/model"
)

// Repository is the persistence gateway the engine writes through.
// Save must be an idempotent upsert; SaveExchangeTransaction must mark the
// ledger row processed in the same database transaction so a reconciled
// row never shows up as unprocessed again.
type Repository interface {
	FindUnprocessed() ([]model.LedgerTransaction, error)
	Save(tx *model.LedgerTransaction) error
	SaveExchangeTransaction(rec *model.ReconciledTransaction) error
	FindLastTransactionTime() (time.Time, error)
}

// LedgerSource is the kiosk network feed.
type LedgerSource interface {
	GetTransactions(ctx context.Context, since time.Time) ([]model.LedgerTransaction, error)
	GetAccountInfo(ctx context.Context) (model.AccountInfo, error)
}

// Publisher emits settlement audit events; a nil Publisher disables the
// stream.
type Publisher interface {
	PublishSettlement(ctx context.Context, ev events.SettlementEvent) error
}

// Config tunes a Reconciler.
type Config struct {
	// BatchMode groups eligible transactions into consolidated orders
	// instead of trading them one by one.
	BatchMode bool

	// PriceTTL is the freshness window of the market price cache.
	PriceTTL time.Duration

	// Settler tunes the fill-polling loop.
	Settler SettlerConfig
}

// Summary reports one reconciliation cycle to the process driver.
type Summary struct {
	RunID    string
	Ingested int // new ledger transactions pulled from the kiosk feed
	Settled  int // ledger transactions durably reconciled
	Skipped  int // forwards still waiting for confirmations
	Leftover int // below-minimum transactions deferred to the next cycle
}

// Reconciler drives one reconciliation cycle at a time. It is safe only
// for serial invocation; the mutex makes an accidental overlapping Run
// wait rather than double-trade.
type Reconciler struct {
	mu sync.Mutex

	venue   exchange.Exchange
	ledger  LedgerSource
	repo    Repository
	pub     Publisher
	settler *Settler
	prices  *PriceCache
	retrier *faulttolerance.Retryer
	logger  *logrus.Logger
	cfg     Config
}

func New(venue exchange.Exchange, ledger LedgerSource, repo Repository, pub Publisher, logger *logrus.Logger, cfg Config) *Reconciler {
	return &Reconciler{
		venue:   venue,
		ledger:  ledger,
		repo:    repo,
		pub:     pub,
		settler: NewSettler(venue, logger, cfg.Settler),
		prices:  NewPriceCache(cfg.PriceTTL),
		retrier: faulttolerance.NewRetryer(faulttolerance.DefaultRetryConfig("persist-settlement"), logger),
		logger:  logger,
		cfg:     cfg,
	}
}

// PriceSink exposes the price cache so a live ticker feed can keep it warm.
func (r *Reconciler) PriceSink() *PriceCache { return r.prices }

// Run executes one reconciliation cycle: ingest new kiosk activity, then
// settle every eligible unprocessed transaction. Trades are strictly
// ordered within a cycle; there is no fan-out across exchange calls.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{RunID: uuid.NewString()}
	log := r.logger.WithField("run_id", summary.RunID)

	if err := r.ingest(ctx, &summary); err != nil {
		return summary, err
	}

	unprocessed, err := r.repo.FindUnprocessed()
	if err != nil {
		return summary, wrapf(KindPersistenceFailed, err, "loading unprocessed transactions")
	}
	if len(unprocessed) == 0 {
		log.Info("No unprocessed transactions")
		return summary, nil
	}

	eligible := make([]model.LedgerTransaction, 0, len(unprocessed))
	required := r.venue.RequiredConfirmations()
	for _, tx := range unprocessed {
		if !tx.Eligible(required) {
			summary.Skipped++
			continue
		}
		eligible = append(eligible, tx)
	}
	log.WithFields(logrus.Fields{
		"unprocessed": len(unprocessed),
		"eligible":    len(eligible),
		"skipped":     summary.Skipped,
	}).Info("Classified pending transactions")

	if r.cfg.BatchMode {
		err = r.runBatched(ctx, eligible, &summary)
	} else {
		err = r.runSingles(ctx, eligible, &summary)
	}
	return summary, err
}

// ingest pulls kiosk activity since the newest stored transaction and
// upserts it. Re-ingesting an already-saved transaction is a no-op.
func (r *Reconciler) ingest(ctx context.Context, summary *Summary) error {
	since, err := r.repo.FindLastTransactionTime()
	if err != nil {
		return wrapf(KindPersistenceFailed, err, "finding last transaction time")
	}

	txs, err := r.ledger.GetTransactions(ctx, since)
	if err != nil {
		return wrapf(KindExchangeUnavailable, err, "fetching kiosk transactions since %s", since)
	}

	for i := range txs {
		if err := r.repo.Save(&txs[i]); err != nil {
			return wrapf(KindPersistenceFailed, err, "saving ledger transaction %s", txs[i].LedgerTxID)
		}
	}
	summary.Ingested = len(txs)
	return nil
}

func (r *Reconciler) runSingles(ctx context.Context, txs []model.LedgerTransaction, summary *Summary) error {
	for i := range txs {
		if err := r.settleGroup(ctx, Batch{
			Direction: txs[i].Direction,
			Members:   txs[i : i+1],
			Total:     txs[i].BtcAmount.Abs(),
		}, summary); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) runBatched(ctx context.Context, txs []model.LedgerTransaction, summary *Summary) error {
	if len(txs) == 0 {
		return nil
	}

	minimum, err := r.venue.MinimumOrder(ctx)
	if err != nil {
		return wrapf(KindPriceUnavailable, err, "fetching minimum order size from %s", r.venue.Name())
	}

	batches, leftover := Aggregate(txs, minimum)
	summary.Leftover = len(leftover)
	r.logger.WithFields(logrus.Fields{
		"batches":  len(batches),
		"leftover": len(leftover),
		"minimum":  minimum.String(),
	}).Info("Aggregated transactions into batches")

	for i := range batches {
		if err := r.settleGroup(ctx, batches[i], summary); err != nil {
			return err
		}
	}
	return nil
}

// settleGroup prices, executes, allocates, and persists one consolidated
// order, whether it covers a batch or a single transaction.
func (r *Reconciler) settleGroup(ctx context.Context, batch Batch, summary *Summary) error {
	reference, err := r.prices.Get(ctx, r.venue.LastPrice)
	if err != nil {
		return wrapf(KindPriceUnavailable, err, "fetching reference price from %s", r.venue.Name())
	}

	side := batch.Side()
	price, err := QuotePrice(side, reference)
	if err != nil {
		return err
	}

	var order *exchange.Order
	if side == exchange.SideBuy {
		info, err := r.ledger.GetAccountInfo(ctx)
		if err != nil {
			return wrapf(KindExchangeUnavailable, err, "fetching kiosk deposit address")
		}
		order, err = r.settler.SettleAndWithdraw(ctx, batch.Total, price, info.DepositAddress)
		if err != nil {
			return err
		}
	} else {
		order, err = r.settler.Settle(ctx, side, batch.Total, price)
		if err != nil {
			return err
		}
	}

	recs, err := Allocate(order, batch.Members)
	if err != nil {
		// Data-integrity failure: the trade happened but the allocation is
		// wrong. Nothing is persisted; this needs operator attention.
		return err
	}

	for i := range recs {
		if err := r.persist(ctx, &recs[i], side, summary.RunID); err != nil {
			return err
		}
		summary.Settled++
	}
	return nil
}

// persist writes one reconciled transaction, retrying until durable. The
// trade has already executed and cannot be rolled back, so losing the
// record is the worst failure mode this engine has.
func (r *Reconciler) persist(ctx context.Context, rec *model.ReconciledTransaction, side exchange.Side, runID string) error {
	err := r.retrier.Execute(ctx, func() error {
		return r.repo.SaveExchangeTransaction(rec)
	})
	if err != nil {
		return wrapf(KindPersistenceFailed, err,
			"recording settlement of %s (order %s)", rec.LedgerTxID, rec.ExchangeOrderID)
	}

	if r.pub != nil {
		ev := events.SettlementEvent{
			RunID:           runID,
			LedgerTxID:      rec.LedgerTxID,
			Direction:       string(rec.Direction),
			Side:            string(side),
			AllocatedBtc:    rec.AllocatedBtc.String(),
			AllocatedFiat:   rec.AllocatedFiat.StringFixed(2),
			AllocatedFee:    rec.AllocatedFee.StringFixed(2),
			ExchangeOrderID: rec.ExchangeOrderID,
			SettledAt:       rec.ExchangeSettledAt,
		}
		if err := r.pub.PublishSettlement(ctx, ev); err != nil {
			r.logger.WithError(err).WithField("ledger_tx_id", rec.LedgerTxID).
				Warn("Settlement event publish failed")
		}
	}
	return nil
}
