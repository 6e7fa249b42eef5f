package sqlitestore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared", "test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertOrderThenLoadRoundTrips(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	o := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Status: types.StatusAccepted}
	data, err := json.Marshal(o)
	require.NoError(t, err)
	require.NoError(t, s.UpsertOrder(ctx, o.OID, o.Symbol, 1000, data))

	orders, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].OID)
}

func TestUpsertOrderIsIdempotentOnConflict(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	o1 := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Status: types.StatusAccepted}
	data1, err := json.Marshal(o1)
	require.NoError(t, err)
	require.NoError(t, s.UpsertOrder(ctx, "o1", "BTCUSDT.BINANCE", 1000, data1))

	o2 := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Status: types.StatusFilled}
	data2, err := json.Marshal(o2)
	require.NoError(t, err)
	require.NoError(t, s.UpsertOrder(ctx, "o1", "BTCUSDT.BINANCE", 2000, data2))

	orders, err := s.LoadOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, types.StatusFilled, orders[0].Status)
}

func TestUpsertPositionAndBalanceRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	posData, err := json.Marshal(types.Position{Exchange: types.ExchangeBinance, Symbol: "BTCUSDT.BINANCE"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertPosition(ctx, "BINANCE", "BTCUSDT.BINANCE", posData))

	positions, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	balData, err := json.Marshal(types.Balance{Asset: "USDT"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertBalance(ctx, "BINANCE:spot", "USDT", balData))

	balances, err := s.LoadBalances(ctx)
	require.NoError(t, err)
	require.Contains(t, balances, "BINANCE:spot")
	assert.Equal(t, "USDT", balances["BINANCE:spot"][0].Asset)
}
