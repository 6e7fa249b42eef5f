// Package engine is the central orchestrator of the gateway: it boots
// every subsystem (Cache, message bus, task supervision, per-venue
// connectors, OMS, EMS) and owns their shutdown, generalizing the
// teacher's engine.New/Start/Stop lifecycle from one exchange
// (Polymarket's CLOB) to an open set of venues read from config.
//
// Lifecycle: New() → Start() → [runs until Stop() or a task fails] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/cache/kvparam"
	"github.com/gateway/cex-gateway/internal/cache/pgstore"
	"github.com/gateway/cex-gateway/internal/cache/sqlitestore"
	"github.com/gateway/cex-gateway/internal/config"
	"github.com/gateway/cex-gateway/internal/ems"
	"github.com/gateway/cex-gateway/internal/oms"
	"github.com/gateway/cex-gateway/internal/privateconn"
	"github.com/gateway/cex-gateway/internal/publicconn"
	"github.com/gateway/cex-gateway/internal/ratelimit"
	"github.com/gateway/cex-gateway/internal/registry"
	"github.com/gateway/cex-gateway/internal/restclient"
	"github.com/gateway/cex-gateway/internal/retry"
	"github.com/gateway/cex-gateway/internal/taskmgr"
	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

// venueRuntime is everything Engine wires per configured exchange: its
// public/private connectors, OMS, EMS, and the REST clients the latter two
// submit through.
type venueRuntime struct {
	exchange types.Exchange
	public   []*publicconn.Connector
	private  []*privateconn.Connector
	oms      *oms.Manager
	ems      *ems.Manager
	orderCh  chan venue.OrderEvent
}

// Engine orchestrates all components of the gateway.
type Engine struct {
	cfg     config.Config
	runID   string
	clk     clock.Clock
	bus     *bus.Bus
	tasks   *taskmgr.Manager
	reg     *registry.Registry
	cache   *cache.Cache
	venues  map[types.Exchange]VenueBinding
	plugins *venue.Registry
	markets map[types.Exchange]map[string]types.Market
	runtime map[types.Exchange]*venueRuntime
	params  *kvparam.Store
	logger  *slog.Logger
}

// Params returns the cross-process strategy-parameter store, or nil if
// kv_param_redis_url was not configured — callers must check for nil
// before use since the store is optional.
func (e *Engine) Params() *kvparam.Store {
	return e.params
}

// New wires every subsystem but does not yet connect to any venue. Cache
// is restored from its backend synchronously so Start begins with the
// last known balances/positions/orders already in memory.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	runID := uuid.New().String()
	logger = logger.With("component", "engine", "run_id", runID)

	clk := clock.NewSystem()
	b := bus.New(logger)
	tasks := taskmgr.New(context.Background())
	reg := registry.New()

	backend, err := openBackend(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: open storage backend: %w", err)
	}

	c := cache.New(clk, backend, cache.Config{
		SyncInterval: cfg.CacheSyncInterval,
		ExpiredAfter: cfg.CacheExpiredTime,
	}, logger)
	if err := c.LoadFromBackend(context.Background()); err != nil {
		return nil, fmt.Errorf("engine: restore cache from backend: %w", err)
	}

	markets, err := buildMarkets(cfg.Markets)
	if err != nil {
		return nil, err
	}

	venues, plugins := buildBindings()

	var params *kvparam.Store
	if cfg.KVParamRedisURL != "" {
		opts, err := redis.ParseURL(cfg.KVParamRedisURL)
		if err != nil {
			return nil, fmt.Errorf("engine: parse kv_param_redis_url: %w", err)
		}
		params = kvparam.New(redis.NewClient(opts), cfg.StrategyID, cfg.UserID)
	}

	e := &Engine{
		cfg:     cfg,
		runID:   runID,
		clk:     clk,
		bus:     b,
		tasks:   tasks,
		reg:     reg,
		cache:   c,
		venues:  venues,
		plugins: plugins,
		markets: markets,
		runtime: make(map[types.Exchange]*venueRuntime),
		params:  params,
		logger:  logger,
	}
	return e, nil
}

// openBackend opens the Cache's durable store per cfg.StorageBackend.
func openBackend(ctx context.Context, cfg config.Config) (cache.Backend, error) {
	switch cfg.StorageBackend {
	case "postgresql":
		return pgstore.Open(ctx, cfg.DBPath, cfg.StrategyID)
	default:
		return sqlitestore.Open(cfg.DBPath, cfg.StrategyID)
	}
}

// Start wires and connects every configured exchange's runtime, then
// returns without blocking. Callers should block on Wait afterward.
func (e *Engine) Start() error {
	e.tasks.CreateTask(func(ctx context.Context) error {
		return e.cache.FlushLoop(ctx, e.cfg.CacheSyncInterval)
	})

	for _, exchange := range sortedExchanges(e.cfg.Basic) {
		if err := e.startExchange(exchange); err != nil {
			return fmt.Errorf("engine: start %s: %w", exchange, err)
		}
	}

	e.logger.Info("gateway started", "strategy_id", e.cfg.StrategyID, "exchanges", len(e.runtime))
	return nil
}

func sortedExchanges(basic map[string]config.BasicConfig) []types.Exchange {
	out := make([]types.Exchange, 0, len(basic))
	for k := range basic {
		out = append(out, types.Exchange(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// startExchange wires one exchange's OMS/EMS and its configured
// public/private connectors, skipping any connector kind the venue's
// binding has no decoder for (per VenueBinding's documented fallback).
func (e *Engine) startExchange(exchange types.Exchange) error {
	binding, ok := e.venues[exchange]
	if !ok {
		e.logger.Warn("no plugin registered for configured exchange, skipping", "exchange", exchange)
		return nil
	}
	plugin, ok := e.plugins.Get(exchange)
	if !ok {
		e.logger.Warn("no plugin registered for configured exchange, skipping", "exchange", exchange)
		return nil
	}
	creds := e.credentialsFor(exchange)

	limiter := ratelimit.New()
	configureRateLimits(limiter, exchange)
	retryMgr := retry.New(retry.DefaultConfig(), restclient.DefaultRetriablePredicate(plugin))

	rt := &venueRuntime{exchange: exchange, orderCh: make(chan venue.OrderEvent, 256)}

	restByKind := make(map[types.AccountKind]*restclient.Client)

	for _, pc := range e.cfg.Public[string(exchange)] {
		at := types.AccountType{Exchange: exchange, Kind: types.AccountKind(pc.AccountType), RestBaseURL: pc.CustomURL}
		at.RestBaseURL = plugin.BaseURL(at)
		at.WSBaseURL = plugin.WSURL(at)

		rest := restclient.New(restclient.Config{}, exchange, at.RestBaseURL, plugin.Signer(), creds, limiter, retryMgr, e.logger)
		restByKind[at.Kind] = rest

		if binding.PublicDecoder == nil {
			e.logger.Warn("no public decoder bound, skipping public connector", "exchange", exchange, "account_type", at.Kind)
			continue
		}
		conn := publicconn.New(at, plugin, rest, binding.PublicDecoder(at), e.cache, e.bus, wsclient.Config{URL: at.WSBaseURL}, e.logger)
		if err := conn.Connect(e.tasks.Context()); err != nil {
			return fmt.Errorf("connect public %s/%s: %w", exchange, at.Kind, err)
		}
		e.subscribeDefaults(conn, exchange, at.Kind)
		rt.public = append(rt.public, conn)
	}

	omsMgr := oms.New(exchange, e.cache, e.bus, e.reg, e.logger)
	e.tasks.CreateTask(func(ctx context.Context) error {
		omsMgr.Run(rt.orderCh)
		return nil
	})
	rt.oms = omsMgr

	for _, pc := range e.cfg.Private[string(exchange)] {
		at := types.AccountType{Exchange: exchange, Kind: types.AccountKind(pc.AccountType), RestBaseURL: pc.CustomURL}
		at.RestBaseURL = plugin.BaseURL(at)
		at.WSBaseURL = plugin.WSURL(at)

		rest := restclient.New(restclient.Config{}, exchange, at.RestBaseURL, plugin.Signer(), creds, limiter, retryMgr, e.logger)
		restByKind[at.Kind] = rest

		if e.cfg.IsMock {
			e.seedMockAccount(exchange, pc)
			e.logger.Info("mock mode: seeded account, skipping private connector and EMS", "exchange", exchange, "account_type", at.Kind)
			continue
		}

		if binding.PrivateDecoder == nil {
			e.logger.Warn("no private decoder bound, skipping private connector", "exchange", exchange, "account_type", at.Kind)
			continue
		}
		var seed privateconn.Seed
		if binding.Seed != nil {
			seed = binding.Seed(at)
		}
		conn := privateconn.New(at, plugin, rest, binding.PrivateDecoder(at), seed, e.cache, e.bus, e.reg, rt.orderCh, wsclient.Config{URL: at.WSBaseURL}, e.logger)
		if err := conn.Connect(e.tasks.Context()); err != nil {
			return fmt.Errorf("connect private %s/%s: %w", exchange, at.Kind, err)
		}
		if err := conn.SubscribeOrders(); err != nil {
			e.logger.Warn("subscribe orders failed", "exchange", exchange, "error", err)
		}
		if err := conn.SubscribeExecutions(); err != nil {
			e.logger.Warn("subscribe executions failed", "exchange", exchange, "error", err)
		}
		if err := conn.SubscribeBalances(""); err != nil {
			e.logger.Warn("subscribe balances failed", "exchange", exchange, "error", err)
		}
		if err := conn.SubscribePositions(); err != nil {
			e.logger.Warn("subscribe positions failed", "exchange", exchange, "error", err)
		}
		rt.private = append(rt.private, conn)
	}

	if !e.cfg.IsMock && binding.Submitter != nil && len(restByKind) > 0 {
		emsMgr := ems.New(exchange, e.markets[exchange], e.accountResolver(exchange), restByKind, binding.Submitter(primaryKind(restByKind)), e.reg, e.cache, e.bus, e.clk, e.logger)
		emsMgr.Start(e.tasks.Context())
		rt.ems = emsMgr
	}

	e.runtime[exchange] = rt
	return nil
}

// primaryKind picks one representative AccountKind to construct the
// venue's Submitter with: the first key of a map iteration, so when a venue
// has more than one account kind configured the choice is arbitrary.
// Bybit's Submitter reads this Kind to choose the V5 "category" query param.
func primaryKind(restByKind map[types.AccountKind]*restclient.Client) types.AccountKind {
	for k := range restByKind {
		return k
	}
	return types.AccountSpot
}

// accountResolver resolves an instrument to an AccountType from its subtype
// alone (linear/future -> linear, inverse -> inverse, anything else ->
// spot); the configured private_conn_config account types are not
// consulted.
func (e *Engine) accountResolver(exchange types.Exchange) ems.AccountResolver {
	return func(id types.InstrumentId) (types.AccountType, error) {
		kind := types.AccountSpot
		switch id.Subtype {
		case types.SubtypeLinear, types.SubtypeFuture:
			kind = types.AccountLinear
		case types.SubtypeInverse:
			kind = types.AccountInverse
		}
		return types.AccountType{Exchange: exchange, Kind: kind}, nil
	}
}

func (e *Engine) credentialsFor(exchange types.Exchange) restclient.Credentials {
	basic := e.cfg.Basic[string(exchange)]
	return restclient.Credentials{APIKey: basic.APIKey, Secret: basic.Secret, Passphrase: basic.Passphrase}
}

// configureRateLimits registers three buckets per venue, "<prefix>.order",
// "<prefix>.account" and "<prefix>.public", at fixed defaults with no wait
// timeout. Keys a plugin's RateLimitKey returns outside these three (such
// as Hyperliquid's "hyperliquid.exchange" and "hyperliquid.info") have no
// bucket registered here.
func configureRateLimits(limiter *ratelimit.Limiter, exchange types.Exchange) {
	prefix := exchangeRateLimitPrefix(exchange)
	limiter.Configure(prefix+".order", 10, 20, 0)
	limiter.Configure(prefix+".account", 5, 10, 0)
	limiter.Configure(prefix+".public", 20, 40, 0)
}

func exchangeRateLimitPrefix(exchange types.Exchange) string {
	switch exchange {
	case types.ExchangeBybit:
		return "bybit"
	case types.ExchangeBinance:
		return "binance"
	case types.ExchangeOKX:
		return "okx"
	case types.ExchangeKuCoin:
		return "kucoin"
	case types.ExchangeBitget:
		return "bitget"
	case types.ExchangeHyperliquid:
		return "hyperliquid"
	default:
		return "venue"
	}
}

// subscribeDefaults subscribes every configured market for this exchange
// to trade prints and top-of-book quotes, the minimum market data EMS's
// quantization and a strategy layer both need.
func (e *Engine) subscribeDefaults(conn *publicconn.Connector, exchange types.Exchange, kind types.AccountKind) {
	symbols := make([]string, 0, len(e.markets[exchange]))
	for symbol := range e.markets[exchange] {
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		return
	}
	if err := conn.SubscribeTrade(symbols...); err != nil {
		e.logger.Warn("subscribe trade failed", "exchange", exchange, "error", err)
	}
	if err := conn.SubscribeBookL1(symbols...); err != nil {
		e.logger.Warn("subscribe bookl1 failed", "exchange", exchange, "error", err)
	}
}

// Stop disconnects private connectors, then public connectors, flushes the
// Cache one last time, and cancels every supervised task, per spec §4.N's
// private-then-public shutdown order (so no more order events can arrive
// mid-flush once the book-only feeds are the only thing still running).
func (e *Engine) Stop() error {
	e.logger.Info("gateway stopping")

	for _, rt := range e.runtime {
		for _, conn := range rt.private {
			if err := conn.Disconnect(); err != nil {
				e.logger.Warn("disconnect private connector failed", "exchange", rt.exchange, "error", err)
			}
		}
	}
	for _, rt := range e.runtime {
		for _, conn := range rt.public {
			if err := conn.Disconnect(); err != nil {
				e.logger.Warn("disconnect public connector failed", "exchange", rt.exchange, "error", err)
			}
		}
	}

	if err := e.cache.Flush(context.Background()); err != nil {
		e.logger.Warn("final cache flush failed", "error", err)
	}

	if err := e.tasks.Cancel(); err != nil {
		e.logger.Warn("task manager reported an error on shutdown", "error", err)
	}

	if e.params != nil {
		if err := e.params.Close(); err != nil {
			e.logger.Warn("kv_param store close failed", "error", err)
		}
	}

	e.logger.Info("gateway stopped")
	return nil
}

// Wait blocks until a supervised task fails or Stop cancels them all.
func (e *Engine) Wait() error {
	return e.tasks.Wait()
}
