package reconciler

import (
	"github.com/shopspring/decimal"

	"github.com/satoshipoint/reconciler/internal/exchange"
)

// The kiosk's operating margin: buys execute 10% above the reference
// price, sells 10% below. Quoted prices are reproducible from the
// reference price alone.
var (
	buyRate  = decimal.RequireFromString("1.10")
	sellRate = decimal.RequireFromString("0.90")

	half = decimal.New(5, -1)
)

// QuotePrice computes the execution price for an order from the reference
// market price. Prices are quoted at 2 decimal places, rounding half-down
// so an exact half-cent never rounds in the counterparty's favor.
func QuotePrice(side exchange.Side, reference decimal.Decimal) (decimal.Decimal, error) {
	if reference.Sign() <= 0 {
		return decimal.Zero, errf(KindInvalidPrice, "reference price %s is not positive", reference)
	}

	var rate decimal.Decimal
	switch side {
	case exchange.SideBuy:
		rate = buyRate
	case exchange.SideSell:
		rate = sellRate
	default:
		return decimal.Zero, errf(KindInvalidPrice, "unknown order side %q", side)
	}

	return roundHalfDown(reference.Mul(rate), 2), nil
}

// roundHalfDown rounds a non-negative decimal to the given number of
// places, with exact halves rounding down.
func roundHalfDown(d decimal.Decimal, places int32) decimal.Decimal {
	shifted := d.Shift(places)
	floor := shifted.Floor()
	if shifted.Sub(floor).GreaterThan(half) {
		floor = floor.Add(decimal.New(1, 0))
	}
	return floor.Shift(-places)
}
