// Package okx implements the venue.Plugin contract for OKX spot, swap
// (linear/inverse perpetual), and futures, per spec §4.B.
package okx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

const (
	defaultRestURL   = "https://www.okx.com"
	defaultPublicWS  = "wss://ws.okx.com:8443/ws/v5/public"
	defaultPrivateWS = "wss://ws.okx.com:8443/ws/v5/private"
)

// Plugin is OKX's venue.Plugin implementation: ISO-8601-timestamp,
// base64-encoded HMAC-SHA256 over timestamp+method+path+body, the
// StyleTimestampMethodPath layout HMACSigner already models.
type Plugin struct {
	signer venue.HMACSigner
}

// New builds an OKX plugin.
func New() *Plugin {
	return &Plugin{
		signer: venue.HMACSigner{
			Style:            venue.StyleTimestampMethodPath,
			Encoding:         venue.EncodingBase64,
			APIKeyHeader:     "OK-ACCESS-KEY",
			SignatureHeader:  "OK-ACCESS-SIGN",
			TimestampHeader:  "OK-ACCESS-TIMESTAMP",
			PassphraseHeader: "OK-ACCESS-PASSPHRASE",
		},
	}
}

func (p *Plugin) Exchange() types.Exchange { return types.ExchangeOKX }

func (p *Plugin) BaseURL(at types.AccountType) string {
	if at.RestBaseURL != "" {
		return at.RestBaseURL
	}
	return defaultRestURL
}

// WSURL returns the account type's WS override if set, else the public
// channel; the private channel's URL comes from PrivateWSURL.
func (p *Plugin) WSURL(at types.AccountType) string {
	if at.WSBaseURL != "" {
		return at.WSBaseURL
	}
	return defaultPublicWS
}

// PrivateWSURL is OKX-specific: its private channel lives on a distinct
// path, unlike Binance/Bybit which multiplex one WS endpoint.
func (p *Plugin) PrivateWSURL(at types.AccountType) string {
	if at.WSBaseURL != "" {
		return at.WSBaseURL
	}
	return defaultPrivateWS
}

func (p *Plugin) Signer() venue.Signer { return p.signer }

func (p *Plugin) RateLimitKey(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/trade/order"):
		return "okx.order"
	case strings.Contains(endpoint, "/account"):
		return "okx.account"
	default:
		return "okx.public"
	}
}

func (p *Plugin) Codec(at types.AccountType) wsclient.Codec { return Codec{} }

// RetriableCode reports OKX codes worth retrying: 50004 (timestamp
// expired), 50011 (rate limit, separate from HTTP 429) and 50013.
func (p *Plugin) RetriableCode(code string) bool {
	switch code {
	case "50004", "50011", "50013":
		return true
	default:
		return false
	}
}

// Codec implements wsclient.Codec for OKX's channel/instId subscribe
// format: {"op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}.
type Codec struct{}

type arg struct {
	Channel string `json:"channel"`
	InstId  string `json:"instId"`
}

type opMsg struct {
	Op   string `json:"op"`
	Args []arg  `json:"args"`
}

func toArg(desc wsclient.Descriptor) (arg, error) {
	d, ok := desc.(venue.SubKeyDescriptor)
	if !ok {
		return arg{}, fmt.Errorf("okx: unsupported descriptor %T", desc)
	}
	switch d.Kind {
	case types.TopicTrade:
		return arg{Channel: "trades", InstId: d.Symbol}, nil
	case types.TopicBookL1:
		return arg{Channel: "tickers", InstId: d.Symbol}, nil
	case types.TopicBookL2:
		return arg{Channel: "books", InstId: d.Symbol}, nil
	case types.TopicKline:
		return arg{Channel: "candle" + d.Interval, InstId: d.Symbol}, nil
	case types.TopicFundingRate:
		return arg{Channel: "funding-rate", InstId: d.Symbol}, nil
	case types.TopicMarkPrice:
		return arg{Channel: "mark-price", InstId: d.Symbol}, nil
	case types.TopicIndexPrice:
		return arg{Channel: "index-tickers", InstId: d.Symbol}, nil
	default:
		return arg{}, fmt.Errorf("okx: unsupported topic %s", d.Kind)
	}
}

func (Codec) encode(op string, descs []wsclient.Descriptor) ([]byte, error) {
	args := make([]arg, 0, len(descs))
	for _, d := range descs {
		a, err := toArg(d)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
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

// EncodePing returns the literal text frame "ping"; OKX replies "pong" on
// the same channel rather than answering a protocol-level ping control
// frame.
func (Codec) EncodePing() []byte { return []byte("ping") }
