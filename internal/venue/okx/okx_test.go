package okx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

func TestPrivateWSURLDiffersFromPublic(t *testing.T) {
	t.Parallel()

	p := New()
	at := types.AccountType{Kind: types.AccountSpot}
	assert.NotEqual(t, p.WSURL(at), p.PrivateWSURL(at))
}

func TestCodecBuildsCandleChannel(t *testing.T) {
	t.Parallel()

	c := Codec{}
	descs := []wsclient.Descriptor{
		venue.SubKeyDescriptor{SubscriptionKey: types.SubscriptionKey{Kind: types.TopicKline, Symbol: "BTC-USDT", Interval: "1m"}},
	}
	raw, err := c.EncodeSubscribe(descs)
	require.NoError(t, err)

	var msg opMsg
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Len(t, msg.Args, 1)
	assert.Equal(t, "candle1m", msg.Args[0].Channel)
	assert.Equal(t, "BTC-USDT", msg.Args[0].InstId)
}

func TestEncodePingIsLiteralText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte("ping"), Codec{}.EncodePing())
}

func TestSignerUsesBase64Encoding(t *testing.T) {
	t.Parallel()

	p := New()
	req, err := p.Signer().Sign("GET", "/api/v5/account/balance", "", "", 1000, "key", "secret", "pass")
	require.NoError(t, err)
	assert.Equal(t, "pass", req.Headers["OK-ACCESS-PASSPHRASE"])
	assert.NotEmpty(t, req.Headers["OK-ACCESS-SIGN"])
}
