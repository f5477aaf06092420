package reconciler

import (
	"errors"
	"fmt"
)

// Kind classifies a reconciliation failure. Callers branch on the kind,
// never on message text.
type Kind string

const (
	KindInvalidPrice          Kind = "invalid_price"
	KindPriceUnavailable      Kind = "price_unavailable"
	KindOrderSubmissionFailed Kind = "order_submission_failed"
	KindSettlementTimeout     Kind = "settlement_timeout"
	KindSettlementCancelled   Kind = "settlement_cancelled"
	KindWithdrawalFailed      Kind = "withdrawal_failed"
	KindAllocationMismatch    Kind = "allocation_mismatch"
	KindPersistenceFailed     Kind = "persistence_failed"
	KindExchangeUnavailable   Kind = "exchange_unavailable"
)

// Error is a value-based reconciliation failure carrying a kind and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// errf builds an Error with a formatted message.
func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapf builds an Error wrapping a cause.
func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or anything it wraps) is a reconciliation
// error of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}
