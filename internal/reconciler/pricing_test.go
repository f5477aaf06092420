package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satoshipoint/reconciler/internal/exchange"
)

func TestQuotePrice(t *testing.T) {
	tests := []struct {
		name      string
		side      exchange.Side
		reference string
		expected  string
	}{
		{"buy carries 10% markup", exchange.SideBuy, "650.00", "715.00"},
		{"sell carries 10% markdown", exchange.SideSell, "650.00", "585.00"},
		{"buy rounds to cents", exchange.SideBuy, "333.33", "366.66"},
		{"sell rounds to cents", exchange.SideSell, "333.33", "300.00"},
		{"exact half cent rounds down on buy", exchange.SideBuy, "100.05", "110.05"},
		{"exact half cent rounds down on sell", exchange.SideSell, "100.05", "90.04"},
		{"sub-dollar reference", exchange.SideBuy, "0.10", "0.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := QuotePrice(tt.side, d(tt.reference))
			require.NoError(t, err)
			assert.True(t, price.Equal(d(tt.expected)),
				"expected %s, got %s", tt.expected, price)
		})
	}
}

func TestQuotePriceDeterministic(t *testing.T) {
	first, err := QuotePrice(exchange.SideBuy, d("481.77"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := QuotePrice(exchange.SideBuy, d("481.77"))
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestQuotePriceRejectsBadInput(t *testing.T) {
	_, err := QuotePrice(exchange.SideBuy, d("0"))
	assert.True(t, IsKind(err, KindInvalidPrice))

	_, err = QuotePrice(exchange.SideSell, d("-650.00"))
	assert.True(t, IsKind(err, KindInvalidPrice))

	_, err = QuotePrice(exchange.Side("short"), d("650.00"))
	assert.True(t, IsKind(err, KindInvalidPrice))
}
