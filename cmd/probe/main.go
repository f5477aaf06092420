// Command probe is an operator tool that checks exchange and kiosk
// connectivity without trading: it fetches the ticker, the derived
// minimum order size, the account balance, and the kiosk deposit
// address, and prints what it finds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satoshipoint/reconciler/configs"
	"github.com/satoshipoint/reconciler/internal/exchange"
	"github.com/satoshipoint/reconciler/internal/exchange/bitstamp"
	"github.com/satoshipoint/reconciler/internal/exchange/coinbase"
	"github.com/satoshipoint/reconciler/internal/kiosk"
	"github.com/satoshipoint/reconciler/internal/logging"
)

func main() {
	var (
		exchangeName string
		checkKiosk   bool
		checkBalance bool
	)

	flag.StringVar(&exchangeName, "exchange", "", "Exchange to probe: bitstamp, coinbase (default from EXCHANGE env)")
	flag.BoolVar(&checkKiosk, "kiosk", false, "Also probe the kiosk operator API")
	flag.BoolVar(&checkBalance, "balance", false, "Also fetch the exchange balance (needs credentials)")
	flag.Parse()

	cfg := configs.AppLoad()
	logger := logging.NewLogger()

	if exchangeName == "" {
		exchangeName = cfg.Exchange.Name
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

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
		fmt.Fprintf(os.Stderr, "Usage: %s -exchange <name> [-kiosk] [-balance]\n", os.Args[0])
		os.Exit(1)
	}

	fmt.Printf("exchange: %s\n", venue.Name())

	price, err := venue.LastPrice(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ticker: FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("last price: %s\n", price.StringFixed(2))

	minimum, err := venue.MinimumOrder(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minimum order: FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("minimum order: %s BTC\n", minimum.String())

	if checkBalance {
		balance, err := venue.Balance(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "balance: FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("balance: %s BTC / %s fiat (trade fee %s%%)\n",
			balance.BtcAvailable.String(), balance.FiatAvailable.StringFixed(2), balance.TradeFee.String())

		address, err := venue.DepositAddress(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "deposit address: FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("exchange deposit address: %s\n", address)
	}

	if checkKiosk {
		client := kiosk.NewClient(kiosk.Config{
			BaseURL: cfg.Kiosk.BaseURL,
			APIKey:  cfg.Kiosk.APIKey,
			Secret:  cfg.Kiosk.Secret,
		}, logger)

		info, err := client.GetAccountInfo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kiosk account: FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("kiosk deposit address: %s\n", info.DepositAddress)
	}
}
