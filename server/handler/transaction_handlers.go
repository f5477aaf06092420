package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/satoshipoint/reconciler/server/service"
)

type TransactionHandler struct {
	reportService *service.ReportService
}

func NewTransactionHandler(service *service.ReportService) *TransactionHandler {
	return &TransactionHandler{
		reportService: service,
	}
}

func (h *TransactionHandler) GetLatest(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}

	recs, err := h.reportService.GetLatestReconciled(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *TransactionHandler) GetCount(c *gin.Context) {
	count, err := h.reportService.GetReconciledCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *TransactionHandler) GetUnprocessed(c *gin.Context) {
	txs, err := h.reportService.GetUnprocessed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, txs)
}
