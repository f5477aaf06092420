package reconciler

import (
	"github.com/shopspring/decimal"

	"github.com/satoshipoint/reconciler/internal/exchange"
	"github.com/satoshipoint/reconciler/internal/model"
)

// Batch is an ordered, non-empty group of same-direction ledger
// transactions settled through one consolidated exchange order. The sum of
// absolute BTC amounts of its members meets the venue's minimum order size.
type Batch struct {
	Direction model.Direction
	Members   []model.LedgerTransaction

	// Total is the sum of the members' absolute BTC amounts; it is the
	// consolidated order size.
	Total decimal.Decimal
}

// Side is the venue order side settling this batch: sends are replenished
// by buying, forwards are liquidated by selling.
func (b *Batch) Side() exchange.Side {
	if b.Direction == model.DirectionSend {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

// Aggregate partitions transactions by direction and groups each
// direction's queue, in chronological order, into minimum-viable order
// batches. A batch closes each time the running sum of absolute BTC
// amounts reaches minimumOrder, and batching continues until the queue is
// exhausted. A transaction contributes to at most one batch. The tail that
// never reaches the threshold is returned as leftover and is retried on
// the next cycle; no transaction is dropped.
func Aggregate(txs []model.LedgerTransaction, minimumOrder decimal.Decimal) ([]Batch, []model.LedgerTransaction) {
	var batches []Batch
	var leftover []model.LedgerTransaction

	for _, direction := range []model.Direction{model.DirectionSend, model.DirectionForward} {
		var members []model.LedgerTransaction
		running := decimal.Zero

		for _, tx := range txs {
			if tx.Direction != direction {
				continue
			}
			members = append(members, tx)
			running = running.Add(tx.BtcAmount.Abs())

			if running.GreaterThanOrEqual(minimumOrder) {
				batches = append(batches, Batch{
					Direction: direction,
					Members:   members,
					Total:     running,
				})
				members = nil
				running = decimal.Zero
			}
		}

		leftover = append(leftover, members...)
	}

	return batches, leftover
}
