// Package publicconn implements PublicConnector: one instance per
// (exchange, account_type) pair, composing a wsclient.Client, a
// restclient.Client, and the message bus to relay public market data,
// generalizing the teacher's engine.New wiring of exchange.NewMarketFeed
// into a venue-agnostic public-data connector.
package publicconn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/restclient"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

// Decoder turns one raw WS frame into zero or more canonical market-data
// events, each tagged with the MarketDataKind it occupies in the Cache.
// Concrete venue packages supply this alongside their wsclient.Codec.
type Decoder interface {
	Decode(frame []byte) ([]DecodedEvent, error)
}

// DecodedEvent pairs a canonical market-data event with its topic/kind.
type DecodedEvent struct {
	Topic  types.TopicKind
	Kind   types.MarketDataKind
	Event  any
	Symbol string
}

// Connector is one (exchange, account_type) public market-data connection.
type Connector struct {
	exchange types.Exchange
	at       types.AccountType
	ws       *wsclient.Client
	rest     *restclient.Client
	plugin   venue.Plugin
	decoder  Decoder
	cache    *cache.Cache
	bus      *bus.Bus
	logger   *slog.Logger
}

// New builds a public connector for one (exchange, account_type) pair.
func New(at types.AccountType, plugin venue.Plugin, rest *restclient.Client, decoder Decoder, c *cache.Cache, b *bus.Bus, wsCfg wsclient.Config, logger *slog.Logger) *Connector {
	logger = logger.With("component", "publicconn", "exchange", string(plugin.Exchange()), "account_type", at.Kind)
	conn := &Connector{
		exchange: plugin.Exchange(),
		at:       at,
		rest:     rest,
		plugin:   plugin,
		decoder:  decoder,
		cache:    c,
		bus:      b,
		logger:   logger,
	}
	conn.ws = wsclient.New(wsCfg, plugin.Codec(at), conn.dispatch, logger)
	return conn
}

// Connect dials the WebSocket connection and blocks until established or
// ctx is canceled.
func (c *Connector) Connect(ctx context.Context) error {
	return c.ws.Connect(ctx)
}

// Disconnect closes the WebSocket connection.
func (c *Connector) Disconnect() error {
	return c.ws.Disconnect()
}

func (c *Connector) subscribe(kind types.TopicKind, symbols []string, interval string, depth int) error {
	descs := make([]wsclient.Descriptor, 0, len(symbols))
	for _, symbol := range symbols {
		descs = append(descs, venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{
			Kind: kind, Symbol: symbol, Interval: interval, Depth: depth,
		}})
	}
	return c.ws.Subscribe(descs)
}

// SubscribeTrade subscribes to public trade prints for symbols.
func (c *Connector) SubscribeTrade(symbols ...string) error {
	return c.subscribe(types.TopicTrade, symbols, "", 0)
}

// SubscribeBookL1 subscribes to top-of-book quotes for symbols.
func (c *Connector) SubscribeBookL1(symbols ...string) error {
	return c.subscribe(types.TopicBookL1, symbols, "", 0)
}

// SubscribeBookL2 subscribes to depth-book updates at the given level for
// symbols.
func (c *Connector) SubscribeBookL2(depth int, symbols ...string) error {
	return c.subscribe(types.TopicBookL2, symbols, "", depth)
}

// SubscribeKline subscribes to candle updates at interval for symbols.
func (c *Connector) SubscribeKline(interval string, symbols ...string) error {
	return c.subscribe(types.TopicKline, symbols, interval, 0)
}

// SubscribeFundingRate subscribes to perpetual funding-rate updates.
func (c *Connector) SubscribeFundingRate(symbols ...string) error {
	return c.subscribe(types.TopicFundingRate, symbols, "", 0)
}

// SubscribeMarkPrice subscribes to mark-price updates.
func (c *Connector) SubscribeMarkPrice(symbols ...string) error {
	return c.subscribe(types.TopicMarkPrice, symbols, "", 0)
}

// SubscribeIndexPrice subscribes to index-price updates.
func (c *Connector) SubscribeIndexPrice(symbols ...string) error {
	return c.subscribe(types.TopicIndexPrice, symbols, "", 0)
}

// dispatch decodes an inbound WS frame, publishing each canonical event to
// its topic and writing the latest value through the Cache.
func (c *Connector) dispatch(frame []byte) {
	events, err := c.decoder.Decode(frame)
	if err != nil {
		c.logger.Warn("decode frame failed", "error", err)
		return
	}
	for _, e := range events {
		c.cache.ApplyMarketData(c.exchange, e.Symbol, e.Kind, e.Event)
		c.bus.Publish(string(e.Topic), e.Event)
	}
}

// KlinesPage is one REST page of historical klines.
type KlinesPage struct {
	Klines  []types.Kline
	NextCursor string
}

// KlineFetcher issues one paginated REST call for historical klines; the
// venue package supplies the request shape, RequestKlines handles
// pagination and boundary dedup.
type KlineFetcher func(ctx context.Context, rest *restclient.Client, symbol, interval string, startMs, endMs int64, limit int) ([]types.Kline, error)

// RequestKlines pages through fetch until the [startMs, endMs) window is
// exhausted, returning a chronologically ascending, boundary-deduplicated
// list.
func (c *Connector) RequestKlines(ctx context.Context, fetch KlineFetcher, symbol, interval string, startMs, endMs int64, limit int) ([]types.Kline, error) {
	var out []types.Kline
	seen := make(map[int64]struct{})
	cursor := startMs

	for cursor < endMs {
		page, err := fetch(ctx, c.rest, symbol, interval, cursor, endMs, limit)
		if err != nil {
			return nil, fmt.Errorf("publicconn: request klines: %w", err)
		}
		if len(page) == 0 {
			break
		}
		sort.Slice(page, func(i, j int) bool { return page[i].StartMs < page[j].StartMs })

		advanced := false
		for _, k := range page {
			if _, dup := seen[k.StartMs]; dup {
				continue
			}
			seen[k.StartMs] = struct{}{}
			out = append(out, k)
			advanced = true
		}
		if !advanced {
			break
		}
		cursor = page[len(page)-1].StartMs + 1
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out, nil
}
