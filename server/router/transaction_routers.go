package router

import (
	"github.com/gin-gonic/gin"

	"github.com/satoshipoint/reconciler/server/handler"
)

func registerTransactionRoutes(router *gin.RouterGroup, transactionHandler *handler.TransactionHandler) {
	transactions := router.Group("/transactions")
	{
		transactions.GET("/latest", transactionHandler.GetLatest)
		transactions.GET("/count", transactionHandler.GetCount)
		transactions.GET("/unprocessed", transactionHandler.GetUnprocessed)
	}
}
