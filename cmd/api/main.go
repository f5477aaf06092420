package main

import (
	"fmt"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/satoshipoint/reconciler/configs"
	"github.com/satoshipoint/reconciler/internal/logging"
	"github.com/satoshipoint/reconciler/internal/repository"
	"github.com/satoshipoint/reconciler/server/handler"
	"github.com/satoshipoint/reconciler/server/router"
	"github.com/satoshipoint/reconciler/server/service"
)

func main() {
	cfg := configs.AppLoad()
	logger := logging.NewLogger()

	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	reportRepo := repository.NewGormReportRepository(db)
	reportService := service.NewReportService(reportRepo)
	transactionHandler := handler.NewTransactionHandler(reportService)

	routerConfig := &router.Config{
		TransactionHandler: transactionHandler,
	}

	r := router.NewRouter(routerConfig)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	logger.Infof("Serving reconciliation API on :%s", port)
	if err := r.Run(fmt.Sprintf(":%s", port)); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
}
