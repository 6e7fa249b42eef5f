package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignerTimestampMethodPath(t *testing.T) {
	t.Parallel()

	signer := HMACSigner{
		Style:           StyleTimestampMethodPath,
		Encoding:        EncodingHex,
		APIKeyHeader:    "X-API-KEY",
		SignatureHeader: "X-SIGNATURE",
		TimestampHeader: "X-TIMESTAMP",
	}

	req, err := signer.Sign("GET", "/v1/account", "", "", 1000, "key", "secret", "")
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1000GET/v1/account"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, req.Headers["X-SIGNATURE"])
	assert.Equal(t, "key", req.Headers["X-API-KEY"])
	assert.Equal(t, "1000", req.Headers["X-TIMESTAMP"])
}

func TestHMACSignerQueryStringStyle(t *testing.T) {
	t.Parallel()

	signer := HMACSigner{
		Style:           StyleQueryString,
		Encoding:        EncodingHex,
		APIKeyHeader:    "X-MBX-APIKEY",
		SignatureHeader: "signature",
		TimestampHeader: "timestamp",
	}

	req, err := signer.Sign("POST", "/api/v3/order", "symbol=BTCUSDT&timestamp=1000", "", 1000, "key", "secret", "")
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("symbol=BTCUSDT&timestamp=1000"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, req.Headers["signature"])
}

func TestHMACSignerIncludesPassphraseWhenConfigured(t *testing.T) {
	t.Parallel()

	signer := HMACSigner{
		Style:            StyleTimestampMethodPath,
		Encoding:         EncodingBase64,
		APIKeyHeader:     "OK-ACCESS-KEY",
		SignatureHeader:  "OK-ACCESS-SIGN",
		TimestampHeader:  "OK-ACCESS-TIMESTAMP",
		PassphraseHeader: "OK-ACCESS-PASSPHRASE",
	}

	req, err := signer.Sign("GET", "/api/v5/account/balance", "", "", 1000, "key", "secret", "pass")
	require.NoError(t, err)

	assert.Equal(t, "pass", req.Headers["OK-ACCESS-PASSPHRASE"])
	assert.NotEmpty(t, req.Headers["OK-ACCESS-SIGN"])
}

func TestHMACSignerOmitsPassphraseHeaderWhenNotConfigured(t *testing.T) {
	t.Parallel()

	signer := HMACSigner{
		Style:           StyleTimestampMethodPath,
		Encoding:        EncodingHex,
		APIKeyHeader:    "X-MBX-APIKEY",
		SignatureHeader: "signature",
		TimestampHeader: "timestamp",
	}

	req, err := signer.Sign("GET", "/api/v3/account", "", "", 1000, "key", "secret", "")
	require.NoError(t, err)

	_, ok := req.Headers[""]
	assert.False(t, ok)
}
