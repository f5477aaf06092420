package reconciler

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/satoshipoint/reconciler/internal/exchange"
)

const (
	defaultPollInterval    = 1 * time.Second
	defaultMaxPollInterval = 15 * time.Second
	defaultSettleDeadline  = 5 * time.Minute
)

// SettlerConfig tunes the fill-polling loop.
type SettlerConfig struct {
	// PollInterval is the base delay between fill polls.
	PollInterval time.Duration

	// MaxPollInterval caps the exponential backoff between polls.
	MaxPollInterval time.Duration

	// Deadline is the maximum total wait for a submitted order to
	// surface as filled before the settlement fails with a timeout.
	Deadline time.Duration
}

func (c *SettlerConfig) withDefaults() SettlerConfig {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.MaxPollInterval <= 0 {
		out.MaxPollInterval = defaultMaxPollInterval
	}
	if out.Deadline <= 0 {
		out.Deadline = defaultSettleDeadline
	}
	return out
}

// Settler submits an exchange order and waits, cooperatively, until the
// venue reports it filled. Submission is never retried: a failed submit is
// surfaced immediately so the same BTC is never traded twice.
type Settler struct {
	venue  exchange.Exchange
	logger *logrus.Logger
	cfg    SettlerConfig
}

func NewSettler(venue exchange.Exchange, logger *logrus.Logger, cfg SettlerConfig) *Settler {
	return &Settler{venue: venue, logger: logger, cfg: cfg.withDefaults()}
}

// Settle submits a buy or sell order for amount at price and polls the
// venue's transaction history until a fill matching the order id appears.
// It fails with a timeout once the configured deadline passes, and with a
// cancellation when ctx is done; in both cases the order has been
// submitted exactly once and is never re-submitted.
func (s *Settler) Settle(ctx context.Context, side exchange.Side, amount, price decimal.Decimal) (*exchange.Order, error) {
	submit := s.venue.Buy
	if side == exchange.SideSell {
		submit = s.venue.Sell
	}

	handle, err := submit(ctx, amount, price)
	if err != nil {
		return nil, wrapf(KindOrderSubmissionFailed, err,
			"%s %s BTC @ %s on %s", side, amount, price, s.venue.Name())
	}

	s.logger.WithFields(logrus.Fields{
		"exchange": s.venue.Name(),
		"side":     side,
		"amount":   amount.String(),
		"price":    price.String(),
		"order_id": handle.ID,
	}).Info("Order submitted, polling for fill")

	return s.pollFill(ctx, side, handle)
}

// SettleAndWithdraw runs the send-direction flow: buy the BTC, then
// withdraw it to the kiosk's deposit address. A withdrawal failure is
// surfaced distinctly so the caller never records a trade whose proceeds
// did not reach the customer.
func (s *Settler) SettleAndWithdraw(ctx context.Context, amount, price decimal.Decimal, depositAddress string) (*exchange.Order, error) {
	order, err := s.Settle(ctx, exchange.SideBuy, amount, price)
	if err != nil {
		return nil, err
	}

	if err := s.venue.Withdraw(ctx, amount, depositAddress); err != nil {
		return nil, wrapf(KindWithdrawalFailed, err,
			"withdrawing %s BTC to %s after order %s", amount, depositAddress, order.OrderID)
	}

	s.logger.WithFields(logrus.Fields{
		"amount":  amount.String(),
		"address": depositAddress,
	}).Info("Withdrawal submitted")

	return order, nil
}

func (s *Settler) pollFill(ctx context.Context, side exchange.Side, handle exchange.OrderHandle) (*exchange.Order, error) {
	deadline := time.NewTimer(s.cfg.Deadline)
	defer deadline.Stop()

	delay := s.cfg.PollInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, wrapf(KindSettlementCancelled, ctx.Err(), "order %s", handle.ID)
		case <-deadline.C:
			return nil, errf(KindSettlementTimeout,
				"order %s not filled within %s", handle.ID, s.cfg.Deadline)
		case <-time.After(jitter(delay)):
		}

		fills, err := s.venue.UserTransactions(ctx)
		if err != nil {
			// The order may already be filling; keep polling until the
			// deadline rather than aborting on a transient history error.
			s.logger.WithError(err).WithField("order_id", handle.ID).
				Warn("Fill poll failed, will retry")
		} else {
			for _, f := range fills {
				if f.OrderID == handle.ID {
					return &exchange.Order{
						OrderID:    f.OrderID,
						TxID:       f.TxID,
						Side:       side,
						ExecutedAt: f.ExecutedAt,
						FiatTotal:  f.Fiat,
						BtcTotal:   f.Btc,
						Fee:        f.Fee,
					}, nil
				}
			}
		}

		delay *= 2
		if delay > s.cfg.MaxPollInterval {
			delay = s.cfg.MaxPollInterval
		}
	}
}

// jitter spreads polls by +/-10% so restarted processes don't align.
func jitter(d time.Duration) time.Duration {
	offset := (rand.Float64() - 0.5) * 0.2 * float64(d)
	return d + time.Duration(offset)
}
