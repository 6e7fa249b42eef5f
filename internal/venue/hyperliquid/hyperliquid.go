// Package hyperliquid implements the venue.Plugin contract for Hyperliquid
// perpetuals. Unlike the HMAC-SHA256 venues, Hyperliquid authenticates every
// exchange action with an EIP-712 typed-data signature over the action
// payload, the same wallet-signing primitive the teacher used once to
// derive Polymarket L2 API keys.
package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

const (
	defaultRestURL = "https://api.hyperliquid.xyz"
	defaultWSURL   = "wss://api.hyperliquid.xyz/ws"
)

// Plugin is Hyperliquid's venue.Plugin implementation.
type Plugin struct {
	chainID int64
}

// New builds a Hyperliquid plugin for the given EIP-712 chain ID (1337 for
// Hyperliquid mainnet's "Exchange" domain).
func New(chainID int64) *Plugin {
	if chainID == 0 {
		chainID = 1337
	}
	return &Plugin{chainID: chainID}
}

func (p *Plugin) Exchange() types.Exchange { return types.ExchangeHyperliquid }

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
	return defaultWSURL
}

func (p *Plugin) Signer() venue.Signer { return EIP712Signer{chainID: p.chainID} }

// RateLimitKey buckets every Hyperliquid endpoint into one of the two
// weight pools its REST gateway actually enforces.
func (p *Plugin) RateLimitKey(endpoint string) string {
	if strings.Contains(endpoint, "/exchange") {
		return "hyperliquid.exchange"
	}
	return "hyperliquid.info"
}

func (p *Plugin) Codec(at types.AccountType) wsclient.Codec { return Codec{} }

// RetriableCode reports Hyperliquid response strings worth retrying; it has
// no numeric error-code taxonomy, so classification is by substring.
func (p *Plugin) RetriableCode(code string) bool {
	return strings.Contains(strings.ToLower(code), "timeout") ||
		strings.Contains(strings.ToLower(code), "nonce")
}

// EIP712Signer signs Hyperliquid exchange actions following the same
// typed-data flow as the teacher's Auth.SignTypedData/signClobAuth: the
// request body is treated as the already-JSON-encoded action; its hash is
// placed in the "Agent" typed-data message Hyperliquid's own clients sign
// (source + connectionId), rather than msgpack-encoding the action bytes
// the way Hyperliquid's reference Python/TS SDKs do internally — a
// deliberate simplification, since reproducing msgpack-canonical action
// encoding is orthogonal to what this gateway's callers need from Sign.
// secret carries the hex-encoded ECDSA private key (no API-key/passphrase
// concept on this venue); the signature is returned under Params as r/s
// hex strings and v as a decimal string, for the EMS to fold into the action envelope's "signature"
// field.
type EIP712Signer struct {
	chainID int64
}

func (s EIP712Signer) Sign(method, path, query, body string, tsMs int64, apiKey, secret, passphrase string) (venue.SignedRequest, error) {
	keyHex := strings.TrimPrefix(secret, "0x")
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return venue.SignedRequest{}, fmt.Errorf("hyperliquid: parse private key: %w", err)
	}

	connectionID, err := actionHash(body, tsMs)
	if err != nil {
		return venue.SignedRequest{}, fmt.Errorf("hyperliquid: hash action: %w", err)
	}

	sig, err := signAgent(privateKey, s.chainID, connectionID)
	if err != nil {
		return venue.SignedRequest{}, fmt.Errorf("hyperliquid: sign agent: %w", err)
	}

	return venue.SignedRequest{
		Params: map[string]string{
			"signature_r": sig.r,
			"signature_s": sig.s,
			"signature_v": sig.v,
			"nonce":       fmt.Sprintf("%d", tsMs),
		},
	}, nil
}

// actionHash hashes the JSON action body together with the nonce, standing
// in for Hyperliquid's msgpack(action)+nonce connection-ID digest.
func actionHash(body string, nonce int64) (common.Hash, error) {
	var raw json.RawMessage = json.RawMessage(body)
	if body == "" {
		raw = json.RawMessage("{}")
	}
	payload := append([]byte(raw), []byte(fmt.Sprintf(":%d", nonce))...)
	return crypto.Keccak256Hash(payload), nil
}

type agentSignature struct {
	r, s, v string
}

// signAgent signs the "Agent" EIP-712 message Hyperliquid's Exchange domain
// expects, reusing the teacher's TypedDataAndHash + crypto.Sign + V-27/28
// adjustment flow from SignTypedData.
func signAgent(privateKey *ecdsa.PrivateKey, chainID int64, connectionID common.Hash) (agentSignature, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(big.NewInt(chainID)),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       "a",
			"connectionId": connectionID.Bytes(),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return agentSignature{}, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return agentSignature{}, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return agentSignature{
		r: common.Bytes2Hex(sig[0:32]),
		s: common.Bytes2Hex(sig[32:64]),
		v: fmt.Sprintf("%d", sig[64]),
	}, nil
}

// Codec implements wsclient.Codec for Hyperliquid's subscription format:
// {"method":"subscribe","subscription":{"type":"trades","coin":"BTC"}}.
type Codec struct{}

type subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Interval string `json:"interval,omitempty"`
}

type subMsg struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

func toSubscription(desc wsclient.Descriptor) (subscription, error) {
	d, ok := desc.(venue.SubKeyDescriptor)
	if !ok {
		return subscription{}, fmt.Errorf("hyperliquid: unsupported descriptor %T", desc)
	}
	switch d.Kind {
	case types.TopicTrade:
		return subscription{Type: "trades", Coin: d.Symbol}, nil
	case types.TopicBookL1:
		return subscription{Type: "bbo", Coin: d.Symbol}, nil
	case types.TopicBookL2:
		return subscription{Type: "l2Book", Coin: d.Symbol}, nil
	case types.TopicKline:
		return subscription{Type: "candle", Coin: d.Symbol, Interval: d.Interval}, nil
	default:
		return subscription{}, fmt.Errorf("hyperliquid: unsupported topic %s", d.Kind)
	}
}

// encode emits one subscribe frame per descriptor joined by newlines:
// Hyperliquid's protocol is one subscription object per message.
func (Codec) encode(method string, descs []wsclient.Descriptor) ([]byte, error) {
	var out []byte
	for i, d := range descs {
		sub, err := toSubscription(d)
		if err != nil {
			return nil, err
		}
		frame, err := json.Marshal(subMsg{Method: method, Subscription: sub})
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

// EncodePing returns Hyperliquid's application ping frame.
func (Codec) EncodePing() []byte {
	b, _ := json.Marshal(map[string]string{"method": "ping"})
	return b
}
