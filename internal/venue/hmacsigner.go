package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
)

// MessageStyle selects how the signed message string is assembled, since
// every HMAC-style venue (Binance, Bybit, OKX, KuCoin, Bitget) concatenates
// timestamp/method/path/query/body in its own order.
type MessageStyle int

const (
	// StyleTimestampMethodPath builds "timestamp + method + path + body",
	// generalizing the teacher's Polymarket L2 buildHMAC message layout.
	StyleTimestampMethodPath MessageStyle = iota
	// StyleQueryString builds "query" alone (HMAC over the query string),
	// the Binance/KuCoin-v1 REST signing convention.
	StyleQueryString
)

// Encoding selects how the raw HMAC digest is rendered into the signature
// string venues expect.
type Encoding int

const (
	EncodingHex Encoding = iota
	EncodingBase64
)

// HMACSigner is a generic HMAC-SHA256 request signer parameterized over the
// handful of ways venues differ: message layout, output encoding, and the
// header/param names the signature and its companions are carried under.
// It grounds Binance, Bybit, OKX, KuCoin, and Bitget's signing — all use
// plain HMAC-SHA256 over a secret, unlike Hyperliquid's EIP-712 scheme.
type HMACSigner struct {
	Style          MessageStyle
	Encoding       Encoding
	APIKeyHeader   string
	SignatureHeader string
	TimestampHeader string
	PassphraseHeader string // empty if the venue has none (Binance, Bybit)
}

// Sign implements Signer.
func (s HMACSigner) Sign(method, path, query, body string, tsMs int64, apiKey, secret, passphrase string) (SignedRequest, error) {
	ts := strconv.FormatInt(tsMs, 10)

	var message string
	switch s.Style {
	case StyleQueryString:
		message = query
	default:
		message = ts + method + path
		if query != "" {
			message += "?" + query
		}
		message += body
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(message)); err != nil {
		return SignedRequest{}, fmt.Errorf("hmac write: %w", err)
	}
	sum := mac.Sum(nil)

	var sig string
	switch s.Encoding {
	case EncodingBase64:
		sig = base64.StdEncoding.EncodeToString(sum)
	default:
		sig = hex.EncodeToString(sum)
	}

	headers := map[string]string{
		s.APIKeyHeader:    apiKey,
		s.SignatureHeader: sig,
		s.TimestampHeader: ts,
	}
	if s.PassphraseHeader != "" {
		headers[s.PassphraseHeader] = passphrase
	}

	return SignedRequest{Headers: headers}, nil
}
