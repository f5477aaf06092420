package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/satoshipoint/reconciler/configs"
	"github.com/satoshipoint/reconciler/internal/events"
	"github.com/satoshipoint/reconciler/internal/exchange"
	"github.com/satoshipoint/reconciler/internal/exchange/bitstamp"
	"github.com/satoshipoint/reconciler/internal/exchange/coinbase"
	"github.com/satoshipoint/reconciler/internal/kiosk"
	"github.com/satoshipoint/reconciler/internal/logging"
	"github.com/satoshipoint/reconciler/internal/reconciler"
	"github.com/satoshipoint/reconciler/internal/repository"
)

func main() {
	var (
		exchangeName string
		batchMode    bool
		interval     int
		once         bool
	)

	flag.StringVar(&exchangeName, "exchange", "", "Exchange to trade on: bitstamp, coinbase (default from EXCHANGE env)")
	flag.BoolVar(&batchMode, "batch", false, "Group pending transactions into consolidated orders")
	flag.IntVar(&interval, "interval", 60, "Seconds between reconciliation cycles")
	flag.BoolVar(&once, "once", false, "Run a single cycle and exit")
	flag.Parse()

	cfg := configs.AppLoad()
	logger := logging.NewLogger()

	if exchangeName == "" {
		exchangeName = cfg.Exchange.Name
	}
	if batchMode {
		cfg.Reconciler.BatchMode = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var venue exchange.Exchange
	switch exchangeName {
	case "bitstamp":
		venue = bitstamp.New(bitstamp.Config{
			BaseURL:   cfg.Exchange.Bitstamp.BaseURL,
			TickerURL: cfg.Exchange.Bitstamp.TickerURL,
			ClientID:  cfg.Exchange.Bitstamp.ClientID,
			APIKey:    cfg.Exchange.Bitstamp.APIKey,
			Secret:    cfg.Exchange.Bitstamp.Secret,
		}, logger)
	case "coinbase":
		venue = coinbase.New(coinbase.Config{
			BaseURL:    cfg.Exchange.Coinbase.BaseURL,
			APIKey:     cfg.Exchange.Coinbase.APIKey,
			Secret:     cfg.Exchange.Coinbase.Secret,
			Passphrase: cfg.Exchange.Coinbase.Passphrase,
			AccountID:  cfg.Exchange.Coinbase.AccountID,
		}, logger)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown exchange %q\n", exchangeName)
		fmt.Fprintf(os.Stderr, "Usage: %s -exchange <name>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nAvailable exchanges:\n")
		fmt.Fprintf(os.Stderr, "  - bitstamp\n")
		fmt.Fprintf(os.Stderr, "  - coinbase\n")
		os.Exit(1)
	}

	logger.Infof("Using %s exchange adapter", venue.Name())

	db, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	repo := repository.NewGormRepository(db)
	ledger := kiosk.NewClient(kiosk.Config{
		BaseURL: cfg.Kiosk.BaseURL,
		APIKey:  cfg.Kiosk.APIKey,
		Secret:  cfg.Kiosk.Secret,
	}, logger)

	var pub reconciler.Publisher
	if cfg.Kafka.Enabled {
		publisher := events.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic, logger)
		defer publisher.Close()
		pub = publisher
	}

	engine := reconciler.New(venue, ledger, repo, pub, logger, reconciler.Config{
		BatchMode: cfg.Reconciler.BatchMode,
		PriceTTL:  cfg.Reconciler.PriceTTL,
		Settler: reconciler.SettlerConfig{
			PollInterval: cfg.Reconciler.PollInterval,
			Deadline:     cfg.Reconciler.SettleDeadline,
		},
	})

	if exchangeName == "bitstamp" && cfg.Exchange.Bitstamp.TickerFeed {
		feed := bitstamp.NewTickerFeed(cfg.Exchange.Bitstamp.WSURL, engine.PriceSink(), logger)
		go feed.Run(ctx)
	}

	runCycle := func() {
		summary, err := engine.Run(ctx)
		if err != nil {
			logger.WithError(err).Error("Reconciliation cycle failed")
		}
		logger.WithFields(logrus.Fields{
			"run_id":   summary.RunID,
			"ingested": summary.Ingested,
			"settled":  summary.Settled,
			"skipped":  summary.Skipped,
			"leftover": summary.Leftover,
		}).Info("Reconciliation cycle finished")
	}

	runCycle()
	if once {
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down reconciler")
			return
		case <-ticker.C:
			runCycle()
		}
	}
}
