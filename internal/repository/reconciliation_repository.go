// Package repository provides the gorm-backed persistence gateway for
// ledger and reconciled transactions.
package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/satoshipoint/reconciler/internal/model"
)

// ReconciliationRepository is the durable store behind the engine.
// FindUnprocessed never returns a transaction that already has a
// reconciled record, which is what makes re-running a cycle idempotent.
type ReconciliationRepository interface {
	FindUnprocessed() ([]model.LedgerTransaction, error)
	Save(tx *model.LedgerTransaction) error
	SaveExchangeTransaction(rec *model.ReconciledTransaction) error
	FindLastTransactionTime() (time.Time, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) ReconciliationRepository {
	return &gormRepository{db: db}
}

// FindUnprocessed returns pending ledger transactions in chronological
// order.
func (r *gormRepository) FindUnprocessed() ([]model.LedgerTransaction, error) {
	var txs []model.LedgerTransaction
	err := r.db.
		Where("processed = ?", false).
		Order("created_at asc").
		Find(&txs).Error
	return txs, err
}

// Save upserts a ledger transaction keyed by its kiosk id. Re-ingesting a
// known transaction only refreshes the confirmation count; everything else
// on the row is immutable.
func (r *gormRepository) Save(tx *model.LedgerTransaction) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ledger_tx_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"confirmations"}),
	}).Create(tx).Error
}

// SaveExchangeTransaction records a settlement and flips the originating
// ledger row to processed in one database transaction. Saving the same
// settlement twice is a no-op.
func (r *gormRepository) SaveExchangeTransaction(rec *model.ReconciledTransaction) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ledger_tx_id"}},
			DoNothing: true,
		}).Create(rec).Error
		if err != nil {
			return err
		}

		return tx.Model(&model.LedgerTransaction{}).
			Where("ledger_tx_id = ?", rec.LedgerTxID).
			Update("processed", true).Error
	})
}

// FindLastTransactionTime returns the creation time of the newest stored
// ledger transaction, or the zero time when the store is empty.
func (r *gormRepository) FindLastTransactionTime() (time.Time, error) {
	var tx model.LedgerTransaction
	err := r.db.Order("created_at desc").First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return tx.CreatedAt, nil
}
