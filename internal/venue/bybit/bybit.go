// Package bybit implements the venue.Plugin contract for Bybit spot,
// linear (USDT perpetual), and inverse contracts, per spec §4.B.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

const (
	defaultRestURL       = "https://api.bybit.com"
	defaultSpotWSURL     = "wss://stream.bybit.com/v5/public/spot"
	defaultLinearWSURL   = "wss://stream.bybit.com/v5/public/linear"
	defaultInverseWSURL  = "wss://stream.bybit.com/v5/public/inverse"
	recvWindowMs         = "5000"
)

// Plugin is Bybit's venue.Plugin implementation. V5 signing concatenates
// timestamp+apiKey+recvWindow in front of the query/body before HMAC-SHA256,
// which StyleQueryString (given a pre-built message) can't express directly,
// so Plugin wraps HMACSigner with its own Signer rather than reusing it bare.
type Plugin struct{}

// New builds a Bybit plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Exchange() types.Exchange { return types.ExchangeBybit }

func (p *Plugin) BaseURL(at types.AccountType) string {
	if at.RestBaseURL != "" {
		return at.RestBaseURL
	}
	return defaultRestURL
}

func (p *Plugin) WSURL(at types.AccountType) string {
	if at.WSBaseURL != "" {
		return at.WSBaseURL
	}
	switch at.Kind {
	case types.AccountLinear:
		return defaultLinearWSURL
	case types.AccountInverse:
		return defaultInverseWSURL
	default:
		return defaultSpotWSURL
	}
}

func (p *Plugin) Signer() venue.Signer { return bybitSigner{} }

func (p *Plugin) RateLimitKey(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/order"):
		return "bybit.order"
	case strings.Contains(endpoint, "/account") || strings.Contains(endpoint, "/wallet") || strings.Contains(endpoint, "/position"):
		return "bybit.account"
	default:
		return "bybit.public"
	}
}

func (p *Plugin) Codec(at types.AccountType) wsclient.Codec { return Codec{} }

// RetriableCode reports Bybit codes worth retrying: 10002 (recv_window
// timestamp drift), 10006 (rate limited, separate from HTTP 429) and
// 10016.
func (p *Plugin) RetriableCode(code string) bool {
	switch code {
	case "10002", "10006", "10016":
		return true
	default:
		return false
	}
}

// bybitSigner implements venue.Signer directly: Bybit V5 signs
// timestamp+apiKey+recvWindow+queryOrBody as one HMAC-SHA256 hex digest
// under header X-BAPI-SIGN.
type bybitSigner struct{}

func (bybitSigner) Sign(method, path, query, body string, tsMs int64, apiKey, secret, passphrase string) (venue.SignedRequest, error) {
	ts := fmt.Sprintf("%d", tsMs)
	payload := query
	if method == "POST" || method == "PUT" {
		payload = body
	}
	message := ts + apiKey + recvWindowMs + payload

	inner := venue.HMACSigner{
		Style:           venue.StyleQueryString,
		Encoding:        venue.EncodingHex,
		APIKeyHeader:    "X-BAPI-API-KEY",
		SignatureHeader: "X-BAPI-SIGN",
		TimestampHeader: "X-BAPI-TIMESTAMP",
	}
	signed, err := inner.Sign(method, path, message, "", tsMs, apiKey, secret, passphrase)
	if err != nil {
		return venue.SignedRequest{}, err
	}
	signed.Headers["X-BAPI-RECV-WINDOW"] = recvWindowMs
	return signed, nil
}

// Codec implements wsclient.Codec for Bybit V5's public/private WebSocket
// API: {"op":"subscribe","args":["orderbook.50.BTCUSDT", ...]}.
type Codec struct{}

type opMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func topicName(desc wsclient.Descriptor) (string, error) {
	d, ok := desc.(venue.SubKeyDescriptor)
	if !ok {
		return "", fmt.Errorf("bybit: unsupported descriptor %T", desc)
	}
	switch d.Kind {
	case types.TopicTrade:
		return "publicTrade." + d.Symbol, nil
	case types.TopicBookL1:
		return "tickers." + d.Symbol, nil
	case types.TopicBookL2:
		depth := d.Depth
		if depth == 0 {
			depth = 50
		}
		return fmt.Sprintf("orderbook.%d.%s", depth, d.Symbol), nil
	case types.TopicKline:
		return fmt.Sprintf("kline.%s.%s", d.Interval, d.Symbol), nil
	case types.TopicFundingRate, types.TopicMarkPrice, types.TopicIndexPrice:
		return "tickers." + d.Symbol, nil
	default:
		return "", fmt.Errorf("bybit: unsupported topic %s", d.Kind)
	}
}

func (Codec) encode(op string, descs []wsclient.Descriptor) ([]byte, error) {
	args := make([]string, 0, len(descs))
	for _, d := range descs {
		t, err := topicName(d)
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	return json.Marshal(opMsg{Op: op, Args: args})
}

func (c Codec) EncodeSubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	return c.encode("subscribe", descs)
}

func (c Codec) EncodeUnsubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	return c.encode("unsubscribe", descs)
}

func (c Codec) EncodeResubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	return c.encode("subscribe", descs)
}

// EncodePing returns Bybit's application-level ping frame; Bybit times out
// connections that only receive protocol-level pings.
func (Codec) EncodePing() []byte {
	b, _ := json.Marshal(opMsg{Op: "ping"})
	return b
}
