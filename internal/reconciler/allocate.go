package reconciler

import (
	"github.com/shopspring/decimal"

	"github.com/satoshipoint/reconciler/internal/exchange"
	"github.com/satoshipoint/reconciler/internal/model"
)

// btcEpsilon is the tolerance when comparing the members' BTC sum against
// the consolidated order size. Anything larger is a batching bug, not
// rounding noise.
var btcEpsilon = decimal.New(1, -8)

// Allocate splits one consolidated exchange order's fiat and fee across
// the ledger transactions that funded it, proportionally by BTC
// contribution. Fiat and fee shares are rounded half-down to the cent and
// the residual cent, if any, lands on the last member so the allocated
// columns sum exactly to the order totals. Each member's allocated BTC is
// its own ledger amount, never a derived value.
func Allocate(order *exchange.Order, members []model.LedgerTransaction) ([]model.ReconciledTransaction, error) {
	if len(members) == 0 {
		return nil, errf(KindAllocationMismatch, "order %s has no contributing transactions", order.OrderID)
	}

	orderBtc := order.BtcTotal.Abs()
	memberBtc := decimal.Zero
	for _, m := range members {
		memberBtc = memberBtc.Add(m.BtcAmount.Abs())
	}
	if memberBtc.Sub(orderBtc).Abs().GreaterThan(btcEpsilon) {
		return nil, errf(KindAllocationMismatch,
			"members sum to %s BTC but order %s executed %s BTC", memberBtc, order.OrderID, orderBtc)
	}

	recs := make([]model.ReconciledTransaction, 0, len(members))
	fiatLeft := order.FiatTotal
	feeLeft := order.Fee

	for i, m := range members {
		var fiat, fee decimal.Decimal
		if i == len(members)-1 {
			// Last member absorbs the rounding remainder.
			fiat = fiatLeft
			fee = feeLeft
		} else {
			share := m.BtcAmount.Abs().DivRound(orderBtc, 16)
			fiat = roundHalfDown(order.FiatTotal.Mul(share), 2)
			fee = roundHalfDown(order.Fee.Mul(share), 2)
		}
		fiatLeft = fiatLeft.Sub(fiat)
		feeLeft = feeLeft.Sub(fee)

		recs = append(recs, model.ReconciledTransaction{
			LedgerTxID:        m.LedgerTxID,
			Direction:         m.Direction,
			FiatAmount:        m.FiatAmount,
			BtcAmount:         m.BtcAmount,
			Fee:               m.Fee,
			MinersFee:         m.MinersFee,
			CreatedAt:         m.CreatedAt,
			ExchangeTxID:      order.TxID,
			ExchangeOrderID:   order.OrderID,
			AllocatedFiat:     fiat,
			AllocatedBtc:      m.BtcAmount.Abs(),
			AllocatedFee:      fee,
			ExchangeSettledAt: order.ExecutedAt,
		})
	}

	return recs, nil
}
