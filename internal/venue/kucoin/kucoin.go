// Package kucoin implements the venue.Plugin contract for KuCoin spot and
// futures, per spec §4.B. KuCoin's signing additionally HMACs the
// passphrase itself under the API secret (KC-API-KEY-VERSION 2), which
// venue.HMACSigner's single-pass Sign can't express, so Plugin wraps it
// with a dedicated Signer.
package kucoin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

const (
	defaultSpotRestURL    = "https://api.kucoin.com"
	defaultFuturesRestURL = "https://api-futures.kucoin.com"
)

// Plugin is KuCoin's venue.Plugin implementation. WS connection URLs for
// KuCoin are issued dynamically via a REST "bullet" token rather than a
// fixed endpoint; WSURL returns the REST base URL, and nothing in the
// gateway requests the bullet token before dialing.
type Plugin struct{}

// New builds a KuCoin plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Exchange() types.Exchange { return types.ExchangeKuCoin }

func (p *Plugin) BaseURL(at types.AccountType) string {
	if at.RestBaseURL != "" {
		return at.RestBaseURL
	}
	if at.Kind == types.AccountLinear || at.Kind == types.AccountInverse {
		return defaultFuturesRestURL
	}
	return defaultSpotRestURL
}

func (p *Plugin) WSURL(at types.AccountType) string {
	return p.BaseURL(at)
}

func (p *Plugin) Signer() venue.Signer { return kucoinSigner{} }

func (p *Plugin) RateLimitKey(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "/orders"):
		return "kucoin.order"
	case strings.Contains(endpoint, "/accounts"):
		return "kucoin.account"
	default:
		return "kucoin.public"
	}
}

func (p *Plugin) Codec(at types.AccountType) wsclient.Codec { return Codec{} }

// RetriableCode reports KuCoin codes worth retrying: 429000 (rate limited
// at the application layer) and 400003 (timestamp invalid, clock skew).
func (p *Plugin) RetriableCode(code string) bool {
	switch code {
	case "429000", "400003":
		return true
	default:
		return false
	}
}

// kucoinSigner implements venue.Signer for KuCoin's KC-API-KEY-VERSION 2
// scheme: sign timestamp+method+path+body as usual, but also HMAC-sign the
// passphrase under the same secret before sending it.
type kucoinSigner struct{}

func (kucoinSigner) Sign(method, path, query, body string, tsMs int64, apiKey, secret, passphrase string) (venue.SignedRequest, error) {
	fullPath := path
	if query != "" {
		fullPath += "?" + query
	}

	inner := venue.HMACSigner{
		Style:           venue.StyleTimestampMethodPath,
		Encoding:        venue.EncodingBase64,
		APIKeyHeader:    "KC-API-KEY",
		SignatureHeader: "KC-API-SIGN",
		TimestampHeader: "KC-API-TIMESTAMP",
	}
	signed, err := inner.Sign(method, fullPath, "", body, tsMs, apiKey, secret, "")
	if err != nil {
		return venue.SignedRequest{}, err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(passphrase)); err != nil {
		return venue.SignedRequest{}, fmt.Errorf("kucoin: sign passphrase: %w", err)
	}
	signed.Headers["KC-API-PASSPHRASE"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	signed.Headers["KC-API-KEY-VERSION"] = "2"
	return signed, nil
}

// Codec implements wsclient.Codec for KuCoin's topic subscribe format:
// {"id":N,"type":"subscribe","topic":"/market/ticker:BTC-USDT","privateChannel":false,"response":true}.
type Codec struct{}

type subMsg struct {
	ID             int64  `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

func topicPrefix(kind types.TopicKind, interval string) (string, error) {
	switch kind {
	case types.TopicTrade:
		return "/market/match", nil
	case types.TopicBookL1:
		return "/market/ticker", nil
	case types.TopicBookL2:
		return "/market/level2", nil
	case types.TopicKline:
		return "/market/candles:" + interval, nil
	case types.TopicFundingRate:
		return "/contract/instrument", nil
	default:
		return "", fmt.Errorf("kucoin: unsupported topic %s", kind)
	}
}

// encode groups descriptors by topic prefix and emits one frame per group,
// joining symbols with commas ("/market/ticker:BTC-USDT,ETH-USDT"), which
// KuCoin accepts for multi-symbol subscription on a single topic — each
// frame is still one JSON message, since KuCoin's protocol is one topic per
// frame rather than Binance/Bybit/OKX's batched-array style.
func (Codec) encode(msgType string, descs []wsclient.Descriptor) ([]byte, error) {
	order := make([]string, 0, len(descs))
	symbolsByPrefix := make(map[string][]string)

	for _, desc := range descs {
		d, ok := desc.(venue.SubKeyDescriptor)
		if !ok {
			return nil, fmt.Errorf("kucoin: unsupported descriptor %T", desc)
		}
		prefix, err := topicPrefix(d.Kind, d.Interval)
		if err != nil {
			return nil, err
		}
		symbol := d.Symbol
		if d.Kind == types.TopicKline {
			symbol = d.Symbol + "_" + d.Interval
		}
		if _, seen := symbolsByPrefix[prefix]; !seen {
			order = append(order, prefix)
		}
		symbolsByPrefix[prefix] = append(symbolsByPrefix[prefix], symbol)
	}

	var out []byte
	for i, prefix := range order {
		topic := prefix + ":" + strings.Join(symbolsByPrefix[prefix], ",")
		frame, err := json.Marshal(subMsg{ID: int64(i + 1), Type: msgType, Topic: topic, Response: true})
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, frame...)
	}
	return out, nil
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

// EncodePing returns KuCoin's application ping frame, required because its
// bullet-token connections close on protocol-level silence regardless of
// control-frame pings.
func (Codec) EncodePing() []byte {
	b, _ := json.Marshal(map[string]string{"id": "ping", "type": "ping"})
	return b
}
