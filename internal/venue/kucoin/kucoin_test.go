package kucoin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

func TestSignerHMACsPassphraseUnderSecret(t *testing.T) {
	t.Parallel()

	s := kucoinSigner{}
	req, err := s.Sign("GET", "/api/v1/accounts", "", "", 1000, "key", "secret", "pass")
	require.NoError(t, err)

	assert.Equal(t, "2", req.Headers["KC-API-KEY-VERSION"])
	assert.NotEqual(t, "pass", req.Headers["KC-API-PASSPHRASE"])
	assert.NotEmpty(t, req.Headers["KC-API-PASSPHRASE"])
}

func TestCodecGroupsMultiSymbolByTopic(t *testing.T) {
	t.Parallel()

	c := Codec{}
	descs := []wsclient.Descriptor{
		venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{Kind: types.TopicBookL1, Symbol: "BTC-USDT"}},
		venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{Kind: types.TopicBookL1, Symbol: "ETH-USDT"}},
	}
	raw, err := c.EncodeSubscribe(descs)
	require.NoError(t, err)

	var msg subMsg
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "subscribe", msg.Type)
	assert.Equal(t, "/market/ticker:BTC-USDT,ETH-USDT", msg.Topic)
}

func TestCodecKlineTopicIncludesInterval(t *testing.T) {
	t.Parallel()

	c := Codec{}
	descs := []wsclient.Descriptor{
		venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{Kind: types.TopicKline, Symbol: "BTC-USDT", Interval: "1min"}},
	}
	raw, err := c.EncodeSubscribe(descs)
	require.NoError(t, err)

	var msg subMsg
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "/market/candles:1min:BTC-USDT_1min", msg.Topic)
}
