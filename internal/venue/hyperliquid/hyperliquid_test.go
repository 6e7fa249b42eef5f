package hyperliquid

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

func TestSignerProducesDeterministicSignature(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	secret := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	s := EIP712Signer{chainID: 1337}
	req1, err := s.Sign("POST", "/exchange", "", `{"type":"order"}`, 1000, "", secret, "")
	require.NoError(t, err)
	req2, err := s.Sign("POST", "/exchange", "", `{"type":"order"}`, 1000, "", secret, "")
	require.NoError(t, err)

	assert.Equal(t, req1.Params["signature_r"], req2.Params["signature_r"])
	assert.Equal(t, req1.Params["signature_s"], req2.Params["signature_s"])
	assert.NotEmpty(t, req1.Params["signature_v"])
	assert.Equal(t, "1000", req1.Params["nonce"])
}

func TestSignerRejectsMalformedSecret(t *testing.T) {
	t.Parallel()

	s := EIP712Signer{chainID: 1337}
	_, err := s.Sign("POST", "/exchange", "", "{}", 1000, "", "not-hex", "")
	assert.Error(t, err)
}

func TestRateLimitKeySplitsExchangeAndInfo(t *testing.T) {
	t.Parallel()

	p := New(0)
	assert.Equal(t, "hyperliquid.exchange", p.RateLimitKey("/exchange"))
	assert.Equal(t, "hyperliquid.info", p.RateLimitKey("/info"))
}

func TestCodecBuildsL2BookSubscription(t *testing.T) {
	t.Parallel()

	c := Codec{}
	descs := []wsclient.Descriptor{
		venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{Kind: types.TopicBookL2, Symbol: "BTC"}},
	}
	raw, err := c.EncodeSubscribe(descs)
	require.NoError(t, err)

	var msg subMsg
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "subscribe", msg.Method)
	assert.Equal(t, "l2Book", msg.Subscription.Type)
	assert.Equal(t, "BTC", msg.Subscription.Coin)
}
