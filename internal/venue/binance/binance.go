// Package binance implements the venue.Plugin contract for Binance spot and
// USDT-margined/coin-margined futures, per spec §4.B and §GLOSSARY.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

const (
	defaultSpotRestURL   = "https://api.binance.com"
	defaultSpotWSURL     = "wss://stream.binance.com:9443/stream"
	defaultLinearRestURL = "https://fapi.binance.com"
	defaultLinearWSURL   = "wss://fstream.binance.com/stream"
	defaultInverseRestURL = "https://dapi.binance.com"
	defaultInverseWSURL   = "wss://dstream.binance.com/stream"
)

// Plugin is Binance's venue.Plugin implementation. Signing is the
// query-string HMAC style shared by Binance's whole REST API.
type Plugin struct {
	signer venue.HMACSigner
}

// New builds a Binance plugin.
func New() *Plugin {
	return &Plugin{
		signer: venue.HMACSigner{
			Style:           venue.StyleQueryString,
			Encoding:        venue.EncodingHex,
			APIKeyHeader:    "X-MBX-APIKEY",
			SignatureHeader: "signature",
			TimestampHeader: "timestamp",
		},
	}
}

func (p *Plugin) Exchange() types.Exchange { return types.ExchangeBinance }

func (p *Plugin) BaseURL(at types.AccountType) string {
	if at.RestBaseURL != "" {
		return at.RestBaseURL
	}
	switch at.Kind {
	case types.AccountLinear:
		return defaultLinearRestURL
	case types.AccountInverse:
		return defaultInverseRestURL
	default:
		return defaultSpotRestURL
	}
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

func (p *Plugin) Signer() venue.Signer { return p.signer }

// RateLimitKey buckets Binance endpoints the way its own REST weight system
// does: order placement, account reads, and public market data each draw
// from a distinct weight pool.
func (p *Plugin) RateLimitKey(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/order"):
		return "binance.order"
	case strings.Contains(endpoint, "/account") || strings.Contains(endpoint, "/balance") || strings.Contains(endpoint, "/positionRisk"):
		return "binance.account"
	default:
		return "binance.public"
	}
}

func (p *Plugin) Codec(at types.AccountType) wsclient.Codec { return Codec{} }

// RetriableCode reports Binance error codes worth retrying: -1021
// (timestamp outside recvWindow, clock skew induced), -1003 (rate
// limited, distinct from HTTP 429), -1006 and -1007 are transient.
func (p *Plugin) RetriableCode(code string) bool {
	switch code {
	case "-1021", "-1003", "-1006", "-1007":
		return true
	default:
		return false
	}
}

// Codec implements wsclient.Codec for Binance's combined-stream WebSocket
// API: {"method":"SUBSCRIBE","params":[...],"id":N}.
type Codec struct{}

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func streamName(desc wsclient.Descriptor) (string, error) {
	d, ok := desc.(venue.SubKeyDescriptor)
	if !ok {
		return "", fmt.Errorf("binance: unsupported descriptor %T", desc)
	}
	symbol := strings.ToLower(d.Symbol)
	switch d.Kind {
	case types.TopicTrade:
		return symbol + "@trade", nil
	case types.TopicBookL1:
		return symbol + "@bookTicker", nil
	case types.TopicBookL2:
		depth := d.Depth
		if depth == 0 {
			depth = 20
		}
		return fmt.Sprintf("%s@depth%d@100ms", symbol, depth), nil
	case types.TopicKline:
		return fmt.Sprintf("%s@kline_%s", symbol, d.Interval), nil
	case types.TopicFundingRate, types.TopicMarkPrice:
		return symbol + "@markPrice@1s", nil
	case types.TopicIndexPrice:
		return symbol + "@indexPrice@1s", nil
	default:
		return "", fmt.Errorf("binance: unsupported topic %s", d.Kind)
	}
}

func (Codec) encode(method string, descs []wsclient.Descriptor) ([]byte, error) {
	params := make([]string, 0, len(descs))
	for _, d := range descs {
		s, err := streamName(d)
		if err != nil {
			return nil, err
		}
		params = append(params, s)
	}
	return json.Marshal(subscribeMsg{Method: method, Params: params, ID: 1})
}

func (c Codec) EncodeSubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	return c.encode("SUBSCRIBE", descs)
}

func (c Codec) EncodeUnsubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	return c.encode("UNSUBSCRIBE", descs)
}

func (c Codec) EncodeResubscribe(descs []wsclient.Descriptor) ([]byte, error) {
	return c.encode("SUBSCRIBE", descs)
}

// EncodePing returns nil: Binance expects protocol-level WebSocket pings,
// which wsclient.Client sends itself when Codec.EncodePing is nil.
func (Codec) EncodePing() []byte { return nil }
