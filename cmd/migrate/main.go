package main

import (
	"database/sql"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	"github.com/pressly/goose/v3"

	"github.com/satoshipoint/reconciler/configs"
	"github.com/satoshipoint/reconciler/internal/logging"
)

func main() {
	cfg := configs.AppLoad()
	logger := logging.NewLogger()

	db, err := sql.Open("pgx", cfg.DBDSN)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	// Verify connection
	if err := db.Ping(); err != nil {
		logger.Errorf("Failed to ping database: %v", err)
		os.Exit(1)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Errorf("Goose: failed to set dialect: %v", err)
		os.Exit(1)
	}

	logger.Info("Running database migrations...")
	if err := goose.Up(db, "internal/migrations"); err != nil {
		logger.Errorf("Goose migration failed: %v", err)
		os.Exit(1)
	}

	logger.Info("Migrations completed successfully")
}
