// Package bitget implements the venue.Plugin contract for Bitget spot and
// USDT-margined futures, per spec §4.B. Signing is OKX-shaped: base64 HMAC
// over timestamp+method+path+body, with an ACCESS-PASSPHRASE header.
package bitget

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

const (
	defaultRestURL  = "https://api.bitget.com"
	defaultPublicWS = "wss://ws.bitget.com/v2/ws/public"
	defaultPrivateWS = "wss://ws.bitget.com/v2/ws/private"
)

// Plugin is Bitget's venue.Plugin implementation.
type Plugin struct {
	signer venue.HMACSigner
}

// New builds a Bitget plugin.
func New() *Plugin {
	return &Plugin{
		signer: venue.HMACSigner{
			Style:            venue.StyleTimestampMethodPath,
			Encoding:         venue.EncodingBase64,
			APIKeyHeader:     "ACCESS-KEY",
			SignatureHeader:  "ACCESS-SIGN",
			TimestampHeader:  "ACCESS-TIMESTAMP",
			PassphraseHeader: "ACCESS-PASSPHRASE",
		},
	}
}

func (p *Plugin) Exchange() types.Exchange { return types.ExchangeBitget }

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
	return defaultPublicWS
}

// PrivateWSURL mirrors OKX's split public/private channel endpoints.
func (p *Plugin) PrivateWSURL(at types.AccountType) string {
	if at.WSBaseURL != "" {
		return at.WSBaseURL
	}
	return defaultPrivateWS
}

func (p *Plugin) Signer() venue.Signer { return p.signer }

func (p *Plugin) RateLimitKey(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/order"):
		return "bitget.order"
	case strings.Contains(endpoint, "/account"):
		return "bitget.account"
	default:
		return "bitget.public"
	}
}

func (p *Plugin) Codec(at types.AccountType) wsclient.Codec { return Codec{} }

// RetriableCode reports Bitget codes worth retrying: 40009 (timestamp
// expired) and 30007 (request too frequent, separate from HTTP 429).
func (p *Plugin) RetriableCode(code string) bool {
	switch code {
	case "40009", "30007":
		return true
	default:
		return false
	}
}

// Codec implements wsclient.Codec for Bitget's channel/instType/instId
// subscribe format: {"op":"subscribe","args":[{"instType":"SPOT","channel":"trade","instId":"BTCUSDT"}]}.
type Codec struct {
	InstType string // "SPOT", "USDT-FUTURES", etc; defaults to "SPOT"
}

type arg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstId   string `json:"instId"`
}

type opMsg struct {
	Op   string `json:"op"`
	Args []arg  `json:"args"`
}

func (c Codec) instType() string {
	if c.InstType != "" {
		return c.InstType
	}
	return "SPOT"
}

func (c Codec) toArg(desc wsclient.Descriptor) (arg, error) {
	d, ok := desc.(venue.SubKeyDescriptor)
	if !ok {
		return arg{}, fmt.Errorf("bitget: unsupported descriptor %T", desc)
	}
	instType := c.instType()
	switch d.Kind {
	case types.TopicTrade:
		return arg{InstType: instType, Channel: "trade", InstId: d.Symbol}, nil
	case types.TopicBookL1:
		return arg{InstType: instType, Channel: "ticker", InstId: d.Symbol}, nil
	case types.TopicBookL2:
		return arg{InstType: instType, Channel: "books", InstId: d.Symbol}, nil
	case types.TopicKline:
		return arg{InstType: instType, Channel: "candle" + d.Interval, InstId: d.Symbol}, nil
	case types.TopicFundingRate:
		return arg{InstType: instType, Channel: "funding-time", InstId: d.Symbol}, nil
	default:
		return arg{}, fmt.Errorf("bitget: unsupported topic %s", d.Kind)
	}
}

func (c Codec) encode(op string, descs []wsclient.Descriptor) ([]byte, error) {
	args := make([]arg, 0, len(descs))
	for _, d := range descs {
		a, err := c.toArg(d)
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

// EncodePing returns the literal text frame "ping"; Bitget replies "pong".
func (Codec) EncodePing() []byte { return []byte("ping") }
