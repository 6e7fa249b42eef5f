package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/pkg/types"
)

type fakeBackend struct {
	mu        sync.Mutex
	orders    map[string][]byte
	positions map[string][]byte
	balances  map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		orders:    make(map[string][]byte),
		positions: make(map[string][]byte),
		balances:  make(map[string][]byte),
	}
}

func (b *fakeBackend) UpsertOrder(ctx context.Context, oid, symbol string, timestampMs int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[oid] = data
	return nil
}

func (b *fakeBackend) UpsertPosition(ctx context.Context, exchange, symbol string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[exchange+":"+symbol] = data
	return nil
}

func (b *fakeBackend) UpsertBalance(ctx context.Context, accountType, asset string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[accountType+":"+asset] = data
	return nil
}

func (b *fakeBackend) InsertPnLSnapshot(ctx context.Context, timestampMs int64, data []byte) error {
	return nil
}

func (b *fakeBackend) LoadOrders(ctx context.Context) ([]types.Order, error)       { return nil, nil }
func (b *fakeBackend) LoadPositions(ctx context.Context) ([]types.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Position, 0, len(b.positions))
	for _, data := range b.positions {
		var p types.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
func (b *fakeBackend) LoadBalances(ctx context.Context) (map[string][]types.Balance, error) {
	return nil, nil
}
func (b *fakeBackend) Close() error { return nil }

func newTestCache() (*Cache, *fakeBackend) {
	backend := newFakeBackend()
	return New(clock.NewFake(1000), backend, Config{}, slog.Default()), backend
}

func TestApplyOrderIndexesOpenOrders(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	o := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Exchange: types.ExchangeBinance, Status: types.StatusAccepted}
	c.ApplyOrder(o)

	got, ok := c.GetOrder("o1")
	require.True(t, ok)
	assert.Equal(t, o, got)

	open := c.OpenOrdersBySymbol("BTCUSDT.BINANCE")
	require.Len(t, open, 1)
	assert.Equal(t, "o1", open[0].OID)
}

func TestApplyOrderUnindexesOnTerminal(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	o := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Exchange: types.ExchangeBinance, Status: types.StatusAccepted}
	c.ApplyOrder(o)

	o.Status = types.StatusFilled
	c.ApplyOrder(o)

	assert.Empty(t, c.OpenOrdersBySymbol("BTCUSDT.BINANCE"))
	assert.Empty(t, c.OpenOrdersByExchange(types.ExchangeBinance))
}

func TestApplyPositionAndGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	p := types.Position{Exchange: types.ExchangeBinance, Symbol: "BTCUSDT.BINANCE", SignedAmount: decimal.NewFromInt(1)}
	c.ApplyPosition(p)

	got, ok := c.GetPosition(types.ExchangeBinance, "BTCUSDT.BINANCE")
	require.True(t, ok)
	assert.True(t, got.SignedAmount.Equal(decimal.NewFromInt(1)))
}

func TestFlushWritesDirtyKeysThenClearsDirtySet(t *testing.T) {
	t.Parallel()

	c, backend := newTestCache()
	o := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Exchange: types.ExchangeBinance, Status: types.StatusAccepted}
	c.ApplyOrder(o)

	require.NoError(t, c.Flush(context.Background()))
	assert.Contains(t, backend.orders, "o1")

	assert.Empty(t, c.takeDirty(&c.dirtyOrders))
}

func TestFlushEvictsExpiredTerminalOrders(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(100_000)
	backend := newFakeBackend()
	c := New(fc, backend, Config{ExpiredAfter: 1000}, slog.Default())

	o := types.Order{OID: "o1", Symbol: "BTCUSDT.BINANCE", Exchange: types.ExchangeBinance, Status: types.StatusFilled, TimestampMs: 50_000}
	c.ApplyOrder(o)
	require.NoError(t, c.Flush(context.Background()))

	_, ok := c.GetOrder("o1")
	assert.False(t, ok)
	assert.Contains(t, backend.orders, "o1")
}

func TestApplyBalanceAndGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	c.ApplyBalance("BINANCE:spot", types.Balance{Asset: "USDT", Free: decimal.NewFromInt(100)})

	got, ok := c.GetBalance("BINANCE:spot", "USDT")
	require.True(t, ok)
	assert.True(t, got.Free.Equal(decimal.NewFromInt(100)))
}

func TestApplyAndReadMarketData(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache()
	book := types.BookL1{Exchange: types.ExchangeBinance, Symbol: "BTCUSDT.BINANCE", Bid: decimal.NewFromInt(100)}
	c.ApplyMarketData(types.ExchangeBinance, "BTCUSDT.BINANCE", types.KindBookL1, book)

	got, ok := c.LastMarketData(types.ExchangeBinance, "BTCUSDT.BINANCE", types.KindBookL1)
	require.True(t, ok)
	assert.Equal(t, book, got)
}

func TestLoadFromBackendRestoresState(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c := New(clock.NewFake(1000), backend, Config{}, slog.Default())
	p := types.Position{
		Exchange:     types.ExchangeBinance,
		Symbol:       "BTCUSDT.BINANCE",
		SignedAmount: decimal.NewFromFloat(0.5),
		EntryPrice:   decimal.NewFromInt(30000),
	}
	c.ApplyPosition(p)
	require.NoError(t, c.Flush(context.Background()))

	restored := New(clock.NewFake(1000), backend, Config{}, slog.Default())
	require.NoError(t, restored.LoadFromBackend(context.Background()))

	got, ok := restored.GetPosition(types.ExchangeBinance, "BTCUSDT.BINANCE")
	require.True(t, ok)
	assert.Equal(t, p.Symbol, got.Symbol)
	assert.True(t, got.SignedAmount.Equal(p.SignedAmount))
	assert.True(t, got.EntryPrice.Equal(p.EntryPrice))
}
