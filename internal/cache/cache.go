// Package cache is the gateway's single authoritative in-memory store for
// balances, positions, orders, open-order indexes, and last-seen market
// data, generalizing the teacher's internal/store.Store (crash-safe JSON
// position persistence) into the multi-venue, multi-entity-type store the
// spec's single-threaded cooperative model demands. All mutation flows
// through the _apply_* methods; everything else reads lock-free, since
// reads and writes both happen only from the runtime task.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/pkg/types"
)

// Backend is the pluggable persistence contract: upsert-by-primary-key
// writes, keyed by the <prefix>_orders/_positions/_balances/_pnl_snapshots
// tables, plus a load path used once at startup to restore state.
type Backend interface {
	UpsertOrder(ctx context.Context, oid, symbol string, timestampMs int64, data []byte) error
	UpsertPosition(ctx context.Context, exchange, symbol string, data []byte) error
	UpsertBalance(ctx context.Context, accountType, asset string, data []byte) error
	InsertPnLSnapshot(ctx context.Context, timestampMs int64, data []byte) error

	LoadOrders(ctx context.Context) ([]types.Order, error)
	LoadPositions(ctx context.Context) ([]types.Position, error)
	LoadBalances(ctx context.Context) (map[string][]types.Balance, error)

	Close() error
}

type marketDataKey struct {
	Exchange types.Exchange
	Symbol   string
	Kind     types.MarketDataKind
}

// Cache is the authoritative in-memory store. Construct via New; call
// LoadFromBackend once at boot to restore prior state, and FlushLoop
// to begin periodic persistence.
type Cache struct {
	clk    clock.Clock
	backend Backend
	logger *slog.Logger

	expiredAfter time.Duration

	balances map[string]map[string]types.Balance    // account_type.String() -> asset -> Balance
	positions map[types.Exchange]map[string]types.Position // exchange -> symbol -> Position
	orders    map[string]types.Order                 // oid -> Order
	openOrdersBySymbol   map[string]map[string]struct{} // symbol -> set(oid)
	openOrdersByExchange map[types.Exchange]map[string]struct{}
	lastMarketData map[marketDataKey]any

	dirtyMu      sync.Mutex
	dirtyOrders  map[string]struct{}
	dirtyPositions map[string]struct{} // "<exchange>:<symbol>"
	dirtyBalances  map[string]struct{} // "<accountType>:<asset>"
}

// Config bounds Cache's background behavior.
type Config struct {
	SyncInterval time.Duration
	ExpiredAfter time.Duration // terminal orders older than this are evicted from memory on flush
}

// New constructs an empty Cache backed by backend.
func New(clk clock.Clock, backend Backend, cfg Config, logger *slog.Logger) *Cache {
	expired := cfg.ExpiredAfter
	if expired == 0 {
		expired = 24 * time.Hour
	}
	return &Cache{
		clk:                  clk,
		backend:              backend,
		logger:               logger.With("component", "cache"),
		expiredAfter:         expired,
		balances:             make(map[string]map[string]types.Balance),
		positions:            make(map[types.Exchange]map[string]types.Position),
		orders:               make(map[string]types.Order),
		openOrdersBySymbol:   make(map[string]map[string]struct{}),
		openOrdersByExchange: make(map[types.Exchange]map[string]struct{}),
		lastMarketData:       make(map[marketDataKey]any),
		dirtyOrders:          make(map[string]struct{}),
		dirtyPositions:       make(map[string]struct{}),
		dirtyBalances:        make(map[string]struct{}),
	}
}

// LoadFromBackend restores prior state at boot (spec §8 S6 persistence
// round-trip).
func (c *Cache) LoadFromBackend(ctx context.Context) error {
	orders, err := c.backend.LoadOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range orders {
		c.orders[o.OID] = o
		if !o.Status.IsTerminal() {
			c.indexOpenOrder(o)
		}
	}

	positions, err := c.backend.LoadPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if c.positions[p.Exchange] == nil {
			c.positions[p.Exchange] = make(map[string]types.Position)
		}
		c.positions[p.Exchange][p.Symbol] = p
	}

	balances, err := c.backend.LoadBalances(ctx)
	if err != nil {
		return err
	}
	for acct, bals := range balances {
		m := make(map[string]types.Balance, len(bals))
		for _, b := range bals {
			m[b.Asset] = b
		}
		c.balances[acct] = m
	}
	return nil
}

// ApplyOrder writes o through the cache, updating open-order indexes and
// marking it dirty for the next flush.
func (c *Cache) ApplyOrder(o types.Order) {
	prev, existed := c.orders[o.OID]
	c.orders[o.OID] = o

	if existed && !prev.Status.IsTerminal() && (o.Status.IsTerminal() || o.Symbol != prev.Symbol) {
		c.unindexOpenOrder(prev)
	}
	if !o.Status.IsTerminal() {
		c.indexOpenOrder(o)
	} else {
		c.unindexOpenOrder(o)
	}

	c.markDirty(&c.dirtyOrders, o.OID)
}

// GetOrder returns the cached order and whether it was present.
func (c *Cache) GetOrder(oid string) (types.Order, bool) {
	o, ok := c.orders[oid]
	return o, ok
}

// OpenOrdersBySymbol returns a snapshot slice of open orders for symbol.
func (c *Cache) OpenOrdersBySymbol(symbol string) []types.Order {
	set := c.openOrdersBySymbol[symbol]
	out := make([]types.Order, 0, len(set))
	for oid := range set {
		if o, ok := c.orders[oid]; ok {
			out = append(out, o)
		}
	}
	return out
}

// OpenOrdersByExchange returns a snapshot slice of open orders for exchange.
func (c *Cache) OpenOrdersByExchange(exchange types.Exchange) []types.Order {
	set := c.openOrdersByExchange[exchange]
	out := make([]types.Order, 0, len(set))
	for oid := range set {
		if o, ok := c.orders[oid]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (c *Cache) indexOpenOrder(o types.Order) {
	if c.openOrdersBySymbol[o.Symbol] == nil {
		c.openOrdersBySymbol[o.Symbol] = make(map[string]struct{})
	}
	c.openOrdersBySymbol[o.Symbol][o.OID] = struct{}{}

	if c.openOrdersByExchange[o.Exchange] == nil {
		c.openOrdersByExchange[o.Exchange] = make(map[string]struct{})
	}
	c.openOrdersByExchange[o.Exchange][o.OID] = struct{}{}
}

func (c *Cache) unindexOpenOrder(o types.Order) {
	delete(c.openOrdersBySymbol[o.Symbol], o.OID)
	delete(c.openOrdersByExchange[o.Exchange], o.OID)
}

// ApplyPosition writes a Position through the cache.
func (c *Cache) ApplyPosition(p types.Position) {
	if c.positions[p.Exchange] == nil {
		c.positions[p.Exchange] = make(map[string]types.Position)
	}
	c.positions[p.Exchange][p.Symbol] = p
	c.markDirty(&c.dirtyPositions, string(p.Exchange)+":"+p.Symbol)
}

// GetPosition returns the cached position and whether it was present.
func (c *Cache) GetPosition(exchange types.Exchange, symbol string) (types.Position, bool) {
	p, ok := c.positions[exchange][symbol]
	return p, ok
}

// ApplyBalance writes a Balance through the cache for the given account
// type key (types.AccountType.String()).
func (c *Cache) ApplyBalance(accountType string, b types.Balance) {
	if c.balances[accountType] == nil {
		c.balances[accountType] = make(map[string]types.Balance)
	}
	c.balances[accountType][b.Asset] = b
	c.markDirty(&c.dirtyBalances, accountType+":"+b.Asset)
}

// GetBalance returns the cached balance and whether it was present.
func (c *Cache) GetBalance(accountType, asset string) (types.Balance, bool) {
	b, ok := c.balances[accountType][asset]
	return b, ok
}

// ApplyMarketData records the latest market-data event of its kind for
// (exchange, symbol). kind is supplied by the caller and is the key the
// event is stored under; it is not checked against the event's type.
func (c *Cache) ApplyMarketData(exchange types.Exchange, symbol string, kind types.MarketDataKind, event any) {
	c.lastMarketData[marketDataKey{Exchange: exchange, Symbol: symbol, Kind: kind}] = event
}

// LastMarketData returns the last recorded event of kind for
// (exchange, symbol), if any.
func (c *Cache) LastMarketData(exchange types.Exchange, symbol string, kind types.MarketDataKind) (any, bool) {
	v, ok := c.lastMarketData[marketDataKey{Exchange: exchange, Symbol: symbol, Kind: kind}]
	return v, ok
}

func (c *Cache) markDirty(set *map[string]struct{}, key string) {
	c.dirtyMu.Lock()
	(*set)[key] = struct{}{}
	c.dirtyMu.Unlock()
}

// takeDirty snapshots and clears set under the dirty-set mutex — the one
// deliberate exception to "lock-free from the runtime task", since the
// flush goroutine runs concurrently with writers.
func (c *Cache) takeDirty(set *map[string]struct{}) []string {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	keys := make([]string, 0, len(*set))
	for k := range *set {
		keys = append(keys, k)
	}
	*set = make(map[string]struct{})
	return keys
}

// Flush persists every dirty key to the backend and evicts terminal orders
// older than expiredAfter from memory (retained in storage).
func (c *Cache) Flush(ctx context.Context) error {
	for _, oid := range c.takeDirty(&c.dirtyOrders) {
		o, ok := c.orders[oid]
		if !ok {
			continue
		}
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := c.backend.UpsertOrder(ctx, o.OID, o.Symbol, o.TimestampMs, data); err != nil {
			return err
		}
	}

	for _, key := range c.takeDirty(&c.dirtyPositions) {
		exchange, symbol := splitKey(key)
		p, ok := c.positions[types.Exchange(exchange)][symbol]
		if !ok {
			continue
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := c.backend.UpsertPosition(ctx, exchange, symbol, data); err != nil {
			return err
		}
	}

	for _, key := range c.takeDirty(&c.dirtyBalances) {
		accountType, asset := splitKey(key)
		b, ok := c.balances[accountType][asset]
		if !ok {
			continue
		}
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if err := c.backend.UpsertBalance(ctx, accountType, asset, data); err != nil {
			return err
		}
	}

	c.evictExpiredOrders()
	return nil
}

func (c *Cache) evictExpiredOrders() {
	cutoff := c.clk.NowMs() - c.expiredAfter.Milliseconds()
	for oid, o := range c.orders {
		if o.Status.IsTerminal() && o.TimestampMs < cutoff {
			delete(c.orders, oid)
		}
	}
}

func splitKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// FlushLoop runs Flush every interval until ctx is canceled — the one
// fire-and-forget background task in the single-threaded cooperative model
// (spec §5).
func (c *Cache) FlushLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(context.Background()); err != nil {
				c.logger.Error("final flush failed", "error", err)
				return err
			}
			return nil
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Error("flush failed", "error", err)
			}
		}
	}
}
