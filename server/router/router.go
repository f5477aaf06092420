package router

import (
	"github.com/gin-gonic/gin"

	"github.com/satoshipoint/reconciler/server/handler"
)

type Config struct {
	TransactionHandler *handler.TransactionHandler
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	api := router.Group("/v1/")
	registerTransactionRoutes(api, cfg.TransactionHandler)

	return router
}
