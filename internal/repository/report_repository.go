package repository

import (
	"gorm.io/gorm"

	"github.com/satoshipoint/reconciler/internal/model"
)

// ReportRepository serves the read API.
type ReportRepository interface {
	LatestReconciled(limit int) ([]model.ReconciledTransaction, error)
	CountReconciled() (int64, error)
	Unprocessed() ([]model.LedgerTransaction, error)
}

type gormReportRepository struct {
	db *gorm.DB
}

func NewGormReportRepository(db *gorm.DB) ReportRepository {
	return &gormReportRepository{db: db}
}

func (r *gormReportRepository) LatestReconciled(limit int) ([]model.ReconciledTransaction, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []model.ReconciledTransaction
	err := r.db.
		Order("exchange_settled_at desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *gormReportRepository) CountReconciled() (int64, error) {
	var count int64
	err := r.db.Model(&model.ReconciledTransaction{}).Count(&count).Error
	return count, err
}

func (r *gormReportRepository) Unprocessed() ([]model.LedgerTransaction, error) {
	var txs []model.LedgerTransaction
	err := r.db.
		Where("processed = ?", false).
		Order("created_at asc").
		Find(&txs).Error
	return txs, err
}
