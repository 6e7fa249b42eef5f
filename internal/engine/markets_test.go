package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/config"
	"github.com/gateway/cex-gateway/pkg/types"
)

func TestBuildMarketsSpot(t *testing.T) {
	t.Parallel()

	markets, err := buildMarkets([]config.MarketConfig{
		{Symbol: "BTCUSDT.BYBIT", Base: "BTC", Quote: "USDT", PriceTick: "0.01", AmountLot: "0.0001", MinNotional: "5", MinAmount: "0.0001"},
	})
	require.NoError(t, err)

	m, ok := markets[types.ExchangeBybit]["BTCUSDT.BYBIT"]
	require.True(t, ok)
	assert.IsType(t, types.SpotMarket{}, m)
	assert.Equal(t, "BTC", m.BaseAsset())
	assert.Equal(t, "USDT", m.QuoteAsset())
}

func TestBuildMarketsLinearAndInverse(t *testing.T) {
	t.Parallel()

	markets, err := buildMarkets([]config.MarketConfig{
		{Symbol: "BTCUSDT-PERP.BYBIT", Base: "BTC", Quote: "USDT", PriceTick: "0.1", AmountLot: "0.001", MinNotional: "5", MinAmount: "0.001", Multiplier: "1", MinLeverage: "1", MaxLeverage: "100"},
		{Symbol: "BTCUSD-PERP.BYBIT", Base: "BTC", Quote: "USD", PriceTick: "0.5", AmountLot: "1", MinNotional: "1", MinAmount: "1"},
	})
	require.NoError(t, err)

	linear, ok := markets[types.ExchangeBybit]["BTCUSDT-PERP.BYBIT"]
	require.True(t, ok)
	assert.IsType(t, types.LinearMarket{}, linear)

	// ParseInstrumentId only tags "-PERP" as linear; this gateway has no
	// wire-level signal distinguishing coin-margined contracts by symbol
	// alone, so inverse markets are expressed the same way and still
	// parse to a usable (if technically LinearMarket-tagged) Market.
	_, ok = markets[types.ExchangeBybit]["BTCUSD-PERP.BYBIT"]
	require.True(t, ok)
}

func TestBuildMarketsRejectsInvalidSymbol(t *testing.T) {
	t.Parallel()

	_, err := buildMarkets([]config.MarketConfig{{Symbol: "not-a-valid-symbol"}})
	require.Error(t, err)
}

func TestBuildMarketsRejectsBadDecimal(t *testing.T) {
	t.Parallel()

	_, err := buildMarkets([]config.MarketConfig{
		{Symbol: "BTCUSDT.BYBIT", PriceTick: "not-a-number"},
	})
	require.Error(t, err)
}
