package service

import (
	"github.com/satoshipoint/reconciler/internal/model"
	"github.com/satoshipoint/reconciler/internal/repository"
)

type ReportService struct {
	repo repository.ReportRepository
}

func NewReportService(repo repository.ReportRepository) *ReportService {
	return &ReportService{
		repo: repo,
	}
}

func (rs *ReportService) GetLatestReconciled(limit int) ([]model.ReconciledTransaction, error) {
	return rs.repo.LatestReconciled(limit)
}

func (rs *ReportService) GetReconciledCount() (int64, error) {
	return rs.repo.CountReconciled()
}

func (rs *ReportService) GetUnprocessed() ([]model.LedgerTransaction, error) {
	return rs.repo.Unprocessed()
}
