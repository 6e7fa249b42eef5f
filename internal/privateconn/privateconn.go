// Package privateconn implements PrivateConnector: one instance per
// (exchange, account_type) pair with credentials, seeding the Cache from
// REST on connect, enforcing one-way position mode, and relaying
// authenticated order/execution/balance/position streams to the OMS,
// generalizing the teacher's engine.New wiring of exchange.NewUserFeed into
// a venue-agnostic authenticated connector.
package privateconn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/registry"
	"github.com/gateway/cex-gateway/internal/restclient"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/errs"
	"github.com/gateway/cex-gateway/pkg/types"
)

// DecodedEvent is one private-stream update, decoded just enough for the
// connector to route it: exactly one of Order/Balance/Position is set.
type DecodedEvent struct {
	Order       *venue.OrderEvent
	Balance     *types.Balance
	Position    *types.Position
	AccountType string // set alongside Balance, the key Cache.ApplyBalance expects
}

// Decoder turns one raw private-stream WS frame into zero or more
// DecodedEvents. Concrete venue packages supply this alongside their
// private wsclient.Codec.
type Decoder interface {
	Decode(frame []byte) ([]DecodedEvent, error)
}

// BalanceFetcher pulls the full balance snapshot for one account over REST.
type BalanceFetcher func(ctx context.Context, rest *restclient.Client) ([]types.Balance, error)

// PositionFetcher pulls the full position snapshot for one account over
// REST.
type PositionFetcher func(ctx context.Context, rest *restclient.Client) ([]types.Position, error)

// PositionModeChecker reports whether the account is in one-way (net)
// position mode, per spec §4.K step 2.
type PositionModeChecker func(ctx context.Context, rest *restclient.Client) (mode string, oneWay bool, err error)

// Seed bundles the three REST calls PrivateConnector needs on connect.
// A nil field skips that step (e.g. venues with no hedge/one-way toggle).
type Seed struct {
	Balances     BalanceFetcher
	Positions    PositionFetcher
	PositionMode PositionModeChecker
}

// Connector is one (exchange, account_type) authenticated connection.
type Connector struct {
	exchange  types.Exchange
	at        types.AccountType
	ws        *wsclient.Client
	rest      *restclient.Client
	plugin    venue.Plugin
	decoder   Decoder
	seed      Seed
	cache     *cache.Cache
	bus       *bus.Bus
	registry  *registry.Registry
	orderEvts chan<- venue.OrderEvent
	logger    *slog.Logger
}

// New builds a private connector for one (exchange, account_type) pair.
// orderEvts is the OMS's per-exchange inbound channel; the connector
// forwards every decoded order/execution event to it.
func New(at types.AccountType, plugin venue.Plugin, rest *restclient.Client, decoder Decoder, seed Seed, c *cache.Cache, b *bus.Bus, r *registry.Registry, orderEvts chan<- venue.OrderEvent, wsCfg wsclient.Config, logger *slog.Logger) *Connector {
	logger = logger.With("component", "privateconn", "exchange", string(plugin.Exchange()), "account_type", at.Kind)
	conn := &Connector{
		exchange:  plugin.Exchange(),
		at:        at,
		rest:      rest,
		plugin:    plugin,
		decoder:   decoder,
		seed:      seed,
		cache:     c,
		bus:       b,
		registry:  r,
		orderEvts: orderEvts,
		logger:    logger,
	}
	conn.ws = wsclient.New(wsCfg, plugin.Codec(at), conn.dispatch, logger)
	return conn
}

// Connect seeds the Cache from REST (balances, positions), verifies
// one-way position mode, then dials the authenticated WebSocket.
func (c *Connector) Connect(ctx context.Context) error {
	if c.seed.Balances != nil {
		balances, err := c.seed.Balances(ctx, c.rest)
		if err != nil {
			return fmt.Errorf("privateconn: seed balances: %w", err)
		}
		for _, b := range balances {
			c.cache.ApplyBalance(string(c.at.Kind), b)
		}
	}

	if c.seed.Positions != nil {
		positions, err := c.seed.Positions(ctx, c.rest)
		if err != nil {
			return fmt.Errorf("privateconn: seed positions: %w", err)
		}
		for _, p := range positions {
			c.cache.ApplyPosition(p)
		}
	}

	if c.seed.PositionMode != nil {
		mode, oneWay, err := c.seed.PositionMode(ctx, c.rest)
		if err != nil {
			return fmt.Errorf("privateconn: check position mode: %w", err)
		}
		if !oneWay {
			return &errs.PositionModeError{Exchange: string(c.exchange), Mode: mode}
		}
	}

	return c.ws.Connect(ctx)
}

// Disconnect closes the authenticated WebSocket connection.
func (c *Connector) Disconnect() error {
	return c.ws.Disconnect()
}

func (c *Connector) subscribe(kind types.TopicKind, symbols []string) error {
	descs := make([]wsclient.Descriptor, 0, len(symbols))
	for _, symbol := range symbols {
		descs = append(descs, venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{Kind: kind, Symbol: symbol}})
	}
	return c.ws.Subscribe(descs)
}

// SubscribeOrders subscribes to order lifecycle events for symbols.
func (c *Connector) SubscribeOrders(symbols ...string) error {
	return c.subscribe(types.TopicOrder, symbols)
}

// SubscribeExecutions subscribes to fill/execution events for symbols.
func (c *Connector) SubscribeExecutions(symbols ...string) error {
	return c.subscribe(types.TopicExecution, symbols)
}

// SubscribeBalances subscribes to balance update events. Most venues push
// balance updates account-wide rather than per-symbol; callers pass a
// single placeholder symbol ("") when the venue has no per-symbol scoping.
func (c *Connector) SubscribeBalances(symbols ...string) error {
	return c.subscribe(types.TopicBalance, symbols)
}

// SubscribePositions subscribes to position update events for symbols.
func (c *Connector) SubscribePositions(symbols ...string) error {
	return c.subscribe(types.TopicPosition, symbols)
}

// dispatch decodes an inbound private-stream frame, routing each event to
// the OMS (orders), or writing straight through to the Cache and
// publishing on the bus (balances, positions).
func (c *Connector) dispatch(frame []byte) {
	events, err := c.decoder.Decode(frame)
	if err != nil {
		c.logger.Warn("decode private frame failed", "error", err)
		return
	}
	for _, e := range events {
		switch {
		case e.Order != nil:
			c.forwardOrder(*e.Order)
		case e.Balance != nil:
			c.cache.ApplyBalance(e.AccountType, *e.Balance)
			c.bus.Publish(types.BalanceTopic(c.exchange), *e.Balance)
		case e.Position != nil:
			c.cache.ApplyPosition(*e.Position)
			c.bus.Publish(types.PositionTopic(c.exchange), *e.Position)
		}
	}
}

// forwardOrder hands an order event to the OMS with a plain channel send,
// so the read loop blocks until the OMS consumer accepts the event; events
// reach the OMS in arrival order.
func (c *Connector) forwardOrder(ev venue.OrderEvent) {
	c.orderEvts <- ev
}
