package oms

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/internal/registry"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/pkg/types"
)

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

func newTestManager(t *testing.T) (*Manager, *cache.Cache, *registry.Registry, *bus.Bus) {
	t.Helper()
	c := cache.New(clock.NewFake(1000), noopBackend{}, cache.Config{}, slog.Default())
	r := registry.New()
	b := bus.New(slog.Default())
	m := New(types.ExchangeBybit, c, b, r, slog.Default())
	return m, c, r, b
}

func seedPendingOrder(c *cache.Cache, r *registry.Registry, oid, symbol string) {
	order := types.Order{
		OID:       oid,
		Exchange:  types.ExchangeBybit,
		Symbol:    symbol,
		Side:      types.Buy,
		Type:      types.OrderTypeLimit,
		Amount:    decimal.NewFromInt(1),
		Remaining: decimal.NewFromInt(1),
		Status:    types.StatusPending,
	}
	c.ApplyOrder(order)
	r.RegisterTmpOrder(&order)
}

func TestHandleResolvesByOIDBeforeLink(t *testing.T) {
	m, c, r, b := newTestManager(t)
	seedPendingOrder(c, r, "oid-1", "BTCUSDT")

	var published types.Order
	b.Subscribe(types.OrderTopic(types.ExchangeBybit), func(msg any) { published = msg.(types.Order) })

	m.Handle(venue.OrderEvent{OID: "oid-1", EID: "eid-1", Status: types.StatusAccepted, Remaining: decimal.NewFromInt(1)})

	order, ok := c.GetOrder("oid-1")
	require.True(t, ok)
	assert.Equal(t, types.StatusAccepted, order.Status)
	assert.Equal(t, "eid-1", order.EID)
	assert.Equal(t, types.StatusAccepted, published.Status)

	eid, ok := r.GetEID("oid-1")
	require.True(t, ok)
	assert.Equal(t, "eid-1", eid)
}

func TestHandleResolvesByEIDAfterLink(t *testing.T) {
	m, c, r, b := newTestManager(t)
	seedPendingOrder(c, r, "oid-2", "BTCUSDT")
	m.Handle(venue.OrderEvent{OID: "oid-2", EID: "eid-2", Status: types.StatusAccepted})

	_ = b
	m.Handle(venue.OrderEvent{EID: "eid-2", Status: types.StatusPartiallyFilled, Filled: decimal.NewFromInt(1)})

	order, ok := c.GetOrder("oid-2")
	require.True(t, ok)
	assert.Equal(t, types.StatusPartiallyFilled, order.Status)
	assert.True(t, order.Filled.Equal(decimal.NewFromInt(1)))
}

func TestIllegalTransitionIsDropped(t *testing.T) {
	m, c, r, _ := newTestManager(t)
	seedPendingOrder(c, r, "oid-3", "BTCUSDT")

	m.Handle(venue.OrderEvent{OID: "oid-3", Status: types.StatusFilled})

	order, ok := c.GetOrder("oid-3")
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, order.Status, "PENDING->FILLED is not a legal edge, event should be dropped")
}

func TestTerminalIsSticky(t *testing.T) {
	m, c, r, _ := newTestManager(t)
	seedPendingOrder(c, r, "oid-4", "BTCUSDT")
	m.Handle(venue.OrderEvent{OID: "oid-4", Status: types.StatusAccepted})
	m.Handle(venue.OrderEvent{OID: "oid-4", Status: types.StatusCanceled})

	order, ok := c.GetOrder("oid-4")
	require.True(t, ok)
	assert.Equal(t, types.StatusCanceled, order.Status)

	m.Handle(venue.OrderEvent{OID: "oid-4", Status: types.StatusAccepted})
	order, _ = c.GetOrder("oid-4")
	assert.Equal(t, types.StatusCanceled, order.Status, "terminal status must not move again")
}

func TestTerminalRemovesFromRegistryAndOpenOrders(t *testing.T) {
	m, c, r, _ := newTestManager(t)
	seedPendingOrder(c, r, "oid-5", "ETHUSDT")
	m.Handle(venue.OrderEvent{OID: "oid-5", EID: "eid-5", Status: types.StatusAccepted})
	require.Len(t, c.OpenOrdersBySymbol("ETHUSDT"), 1)

	m.Handle(venue.OrderEvent{EID: "eid-5", Status: types.StatusFilled, Filled: decimal.NewFromInt(1)})

	assert.Empty(t, c.OpenOrdersBySymbol("ETHUSDT"))
	_, linked := r.GetOID("eid-5")
	assert.False(t, linked)
}

func TestMergeNeverDecreasesFilledOrCumCost(t *testing.T) {
	m, c, r, _ := newTestManager(t)
	seedPendingOrder(c, r, "oid-6", "BTCUSDT")
	m.Handle(venue.OrderEvent{OID: "oid-6", Status: types.StatusAccepted})
	m.Handle(venue.OrderEvent{OID: "oid-6", Status: types.StatusPartiallyFilled, Filled: decimal.NewFromFloat(0.5), CumCost: decimal.NewFromInt(100)})

	m.Handle(venue.OrderEvent{OID: "oid-6", Status: types.StatusPartiallyFilled, Filled: decimal.NewFromFloat(0.3), CumCost: decimal.NewFromInt(50)})

	order, ok := c.GetOrder("oid-6")
	require.True(t, ok)
	assert.True(t, order.Filled.Equal(decimal.NewFromFloat(0.5)), "filled must not regress on a smaller reported value")
	assert.True(t, order.CumCost.Equal(decimal.NewFromInt(100)))
}

func TestUnresolvableEventIsIgnored(t *testing.T) {
	m, c, _, _ := newTestManager(t)
	m.Handle(venue.OrderEvent{OID: "unknown", EID: "unknown", Status: types.StatusAccepted})
	_, ok := c.GetOrder("unknown")
	assert.False(t, ok)
}
