package publicconn

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/internal/ratelimit"
	"github.com/gateway/cex-gateway/internal/restclient"
	"github.com/gateway/cex-gateway/internal/retry"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

type fakePlugin struct{}

func (fakePlugin) Exchange() types.Exchange            { return types.ExchangeBinance }
func (fakePlugin) BaseURL(at types.AccountType) string  { return "" }
func (fakePlugin) WSURL(at types.AccountType) string    { return "" }
func (fakePlugin) Signer() venue.Signer                 { return nil }
func (fakePlugin) RateLimitKey(endpoint string) string  { return "default" }
func (fakePlugin) RetriableCode(code string) bool       { return false }
func (fakePlugin) Codec(at types.AccountType) wsclient.Codec { return echoCodec{} }

type echoCodec struct{}

func (echoCodec) EncodeSubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Key()
	}
	return []byte("sub:" + strings.Join(names, ",")), nil
}
func (c echoCodec) EncodeUnsubscribe(descs []wsclient.Descriptor) ([]byte, error) { return c.EncodeSubscribe(descs) }
func (c echoCodec) EncodeResubscribe(descs []wsclient.Descriptor) ([]byte, error) { return c.EncodeSubscribe(descs) }
func (echoCodec) EncodePing() []byte                                             { return nil }

type fakeDecoder struct{}

func (fakeDecoder) Decode(frame []byte) ([]DecodedEvent, error) {
	return []DecodedEvent{{
		Topic:  types.TopicTrade,
		Kind:   types.KindTrade,
		Symbol: "BTCUSDT.BINANCE",
		Event:  types.Trade{Exchange: types.ExchangeBinance, Symbol: "BTCUSDT.BINANCE", Price: decimal.NewFromInt(100)},
	}}, nil
}

func newTestCache() *cache.Cache {
	return cache.New(clock.NewFake(1000), noopBackend{}, cache.Config{}, slog.Default())
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

func echoServer(t *testing.T, received chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func TestSubscribeTradePublishesDecodedEvents(t *testing.T) {
	t.Parallel()

	received := make(chan string, 4)
	ts := echoServer(t, received)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	b := bus.New(slog.Default())
	events := make(chan any, 4)
	b.Subscribe(string(types.TopicTrade), func(msg any) { events <- msg })

	limiter := ratelimit.New()
	retryMgr := retry.New(retry.Config{MaxRetries: 1, DelayInitialMs: 1, DelayMaxMs: 1, BackoffFactor: 1}, func(error) bool { return false })
	rest := restclient.New(restclient.Config{}, types.ExchangeBinance, "http://unused", nil, restclient.Credentials{}, limiter, retryMgr, slog.Default())

	cch := newTestCache()
	c := New(types.AccountType{Exchange: types.ExchangeBinance, Kind: types.AccountSpot},
		fakePlugin{}, rest, fakeDecoder{}, cch, b,
		wsclient.Config{URL: wsURL, PingIdleTimeout: time.Second, PingReplyTimeout: time.Second, ReconnectDelay: 10 * time.Millisecond},
		slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.SubscribeTrade("BTCUSDT"))

	select {
	case msg := <-received:
		assert.Contains(t, msg, "sub:")
	case <-time.After(time.Second):
		t.Fatal("server never received subscribe frame")
	}

	require.NoError(t, c.ws.Send([]byte(`{"fake":"frame"}`)))

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("no event published within timeout")
	}

	v, ok := cch.LastMarketData(types.ExchangeBinance, "BTCUSDT.BINANCE", types.KindTrade)
	require.True(t, ok)
	trade, ok := v.(types.Trade)
	require.True(t, ok)
	assert.True(t, trade.Price.Equal(decimal.NewFromInt(100)))

	require.NoError(t, c.Disconnect())
}

func TestRequestKlinesDedupesAndOrdersAscending(t *testing.T) {
	t.Parallel()

	c := &Connector{}
	pages := [][]types.Kline{
		{{StartMs: 100}, {StartMs: 200}},
		{{StartMs: 200}, {StartMs: 300}},
		{},
	}
	call := 0
	fetch := func(ctx context.Context, rest *restclient.Client, symbol, interval string, startMs, endMs int64, limit int) ([]types.Kline, error) {
		if call >= len(pages) {
			return nil, nil
		}
		p := pages[call]
		call++
		return p, nil
	}

	out, err := c.RequestKlines(context.Background(), fetch, "BTCUSDT", "1m", 100, 400, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(100), out[0].StartMs)
	assert.Equal(t, int64(200), out[1].StartMs)
	assert.Equal(t, int64(300), out[2].StartMs)
}
