package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/internal/config"
	"github.com/gateway/cex-gateway/pkg/types"
)

func TestSortedExchangesIsDeterministic(t *testing.T) {
	t.Parallel()

	basic := map[string]config.BasicConfig{
		"OKX": {}, "BYBIT": {}, "BINANCE": {},
	}
	got := sortedExchanges(basic)
	assert.Equal(t, []types.Exchange{types.ExchangeBinance, types.ExchangeBybit, types.ExchangeOKX}, got)
}

func TestAccountResolverPicksKindFromSubtype(t *testing.T) {
	t.Parallel()

	e := &Engine{}
	resolve := e.accountResolver(types.ExchangeBybit)

	spot, err := resolve(types.InstrumentId{SymbolPrefix: "BTCUSDT", Subtype: types.SubtypeSpot, Exchange: types.ExchangeBybit})
	require.NoError(t, err)
	assert.Equal(t, types.AccountSpot, spot.Kind)

	linear, err := resolve(types.InstrumentId{SymbolPrefix: "BTCUSDT", Subtype: types.SubtypeLinear, Exchange: types.ExchangeBybit})
	require.NoError(t, err)
	assert.Equal(t, types.AccountLinear, linear.Kind)
}

type noopBackend struct{}

func (noopBackend) UpsertOrder(ctx context.Context, oid, symbol string, timestampMs int64, data []byte) error {
	return nil
}
func (noopBackend) UpsertPosition(ctx context.Context, exchange, symbol string, data []byte) error {
	return nil
}
func (noopBackend) UpsertBalance(ctx context.Context, accountType, asset string, data []byte) error {
	return nil
}
func (noopBackend) InsertPnLSnapshot(ctx context.Context, timestampMs int64, data []byte) error {
	return nil
}
func (noopBackend) LoadOrders(ctx context.Context) ([]types.Order, error)       { return nil, nil }
func (noopBackend) LoadPositions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (noopBackend) LoadBalances(ctx context.Context) (map[string][]types.Balance, error) {
	return nil, nil
}
func (noopBackend) Close() error { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(clock.NewSystem(), noopBackend{}, cache.Config{}, logger)
	return &Engine{cache: c, logger: logger}
}

func TestSeedMockAccountAppliesInitialBalance(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	pc := config.PrivateConnConfig{AccountType: "spot", InitialBalance: 1000, QuoteCurrency: "USDT"}

	e.seedMockAccount(types.ExchangeBybit, pc)

	at := types.AccountType{Exchange: types.ExchangeBybit, Kind: types.AccountSpot}
	bal, ok := e.cache.GetBalance(at.String(), "USDT")
	require.True(t, ok)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(1000)))
}

func TestSeedMockAccountDefaultsQuoteCurrency(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	pc := config.PrivateConnConfig{AccountType: "spot", InitialBalance: 500}

	e.seedMockAccount(types.ExchangeBybit, pc)

	at := types.AccountType{Exchange: types.ExchangeBybit, Kind: types.AccountSpot}
	bal, ok := e.cache.GetBalance(at.String(), "USDT")
	require.True(t, ok)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(500)))
}
