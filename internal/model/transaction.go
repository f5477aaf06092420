// Package model defines the domain models shared across the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the kiosk-side direction of a ledger transaction.
type Direction string

const (
	// DirectionSend means a customer deposited fiat at the kiosk and is
	// owed BTC: the engine must buy on the exchange and withdraw to the
	// kiosk wallet.
	DirectionSend Direction = "send"

	// DirectionForward means a customer deposited BTC at the kiosk: the
	// engine must liquidate it for fiat on the exchange.
	DirectionForward Direction = "forward"
)

// LedgerTransaction is a single deposit/withdrawal event recorded by the
// kiosk network. Rows are created from the kiosk feed and are read-only to
// the reconciliation core; settling a transaction only flips Processed and
// attaches a ReconciledTransaction.
type LedgerTransaction struct {
	// LedgerTxID is the kiosk network's transaction identifier.
	LedgerTxID string `gorm:"column:ledger_tx_id;primaryKey" json:"ledger_tx_id"`

	// Direction is "send" or "forward".
	Direction Direction `gorm:"column:direction" json:"direction"`

	// FiatAmount is the fiat side of the kiosk event.
	FiatAmount decimal.Decimal `gorm:"column:fiat_amount;type:numeric(16,2)" json:"fiat_amount"`

	// BtcAmount is signed: negative for send (BTC owed to the customer),
	// positive for forward (BTC received by the kiosk).
	BtcAmount decimal.Decimal `gorm:"column:btc_amount;type:numeric(20,8)" json:"btc_amount"`

	// Fee is the kiosk operator fee for this transaction.
	Fee decimal.Decimal `gorm:"column:fee;type:numeric(20,8)" json:"fee"`

	// MinersFee is the network fee the kiosk paid, if any.
	MinersFee decimal.Decimal `gorm:"column:miners_fee;type:numeric(20,8)" json:"miners_fee"`

	// Confirmations is the blockchain confirmation count observed for a
	// forward transaction. Nil until the kiosk network reports one.
	Confirmations *int `gorm:"column:confirmations" json:"confirmations"`

	// CreatedAt is when the event happened on the kiosk network.
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`

	// Processed is set once a ReconciledTransaction for this row is durable.
	Processed bool `gorm:"column:processed" json:"processed"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// Eligible reports whether a transaction may be settled this cycle.
// Forward transactions wait until the deposit has enough confirmations;
// send transactions are always eligible.
func (t *LedgerTransaction) Eligible(requiredConfirmations int) bool {
	if t.Direction != DirectionForward {
		return true
	}
	return t.Confirmations != nil && *t.Confirmations >= requiredConfirmations
}

// ReconciledTransaction is the persisted merge of a LedgerTransaction and
// its allocated share of a consolidated exchange order. Written exactly once
// per ledger transaction.
type ReconciledTransaction struct {
	LedgerTxID string    `gorm:"column:ledger_tx_id;primaryKey" json:"ledger_tx_id"`
	Direction  Direction `gorm:"column:direction" json:"direction"`

	// Original ledger fields, carried for the audit record.
	FiatAmount decimal.Decimal `gorm:"column:fiat_amount;type:numeric(16,2)" json:"fiat_amount"`
	BtcAmount  decimal.Decimal `gorm:"column:btc_amount;type:numeric(20,8)" json:"btc_amount"`
	Fee        decimal.Decimal `gorm:"column:fee;type:numeric(20,8)" json:"fee"`
	MinersFee  decimal.Decimal `gorm:"column:miners_fee;type:numeric(20,8)" json:"miners_fee"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`

	// ExchangeTxID and ExchangeOrderID identify the venue-side fill.
	ExchangeTxID    string `gorm:"column:exchange_tx_id" json:"exchange_tx_id"`
	ExchangeOrderID string `gorm:"column:exchange_order_id" json:"exchange_order_id"`

	// AllocatedFiat and AllocatedFee are this transaction's proportional
	// share of the consolidated order. AllocatedBtc equals the ledger
	// transaction's own BtcAmount magnitude, never a derived value.
	AllocatedFiat decimal.Decimal `gorm:"column:allocated_fiat;type:numeric(16,2)" json:"allocated_fiat"`
	AllocatedBtc  decimal.Decimal `gorm:"column:allocated_btc;type:numeric(20,8)" json:"allocated_btc"`
	AllocatedFee  decimal.Decimal `gorm:"column:allocated_fee;type:numeric(16,2)" json:"allocated_fee"`

	// ExchangeSettledAt is when the venue reported the fill.
	ExchangeSettledAt time.Time `gorm:"column:exchange_settled_at" json:"exchange_settled_at"`

	// InsertedAt is when the record was inserted into our database.
	InsertedAt time.Time `gorm:"column:inserted_at;autoCreateTime" json:"inserted_at"`
}

func (ReconciledTransaction) TableName() string { return "reconciled_transactions" }

// AccountInfo is the kiosk network's account detail used by the buy path.
type AccountInfo struct {
	DepositAddress string `json:"deposit_address"`
}
