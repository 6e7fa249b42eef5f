// Package venue defines the contract every concrete exchange plugin
// implements (internal/venue/binance, .../bybit, .../okx, .../hyperliquid,
// .../kucoin, .../bitget), per the venue REST/WS signing contract.
package venue

import (
	"github.com/shopspring/decimal"

	"github.com/gateway/cex-gateway/internal/wsclient"
	"github.com/gateway/cex-gateway/pkg/types"
)

// SignedRequest is the output of a Signer: headers and/or query parameters
// to add to an outgoing REST request.
type SignedRequest struct {
	Headers map[string]string
	Params  map[string]string
}

// OrderEvent is one raw order/execution update off a private WS stream,
// normalized just enough that OMS can resolve it to a local order and fold
// it into the state machine — still venue-native in the fields that differ
// per exchange (Status carries the canonical types.OrderStatus, everything
// else is whatever the venue reported for that field on this update).
type OrderEvent struct {
	OID         string // client-tag, if the venue echoes one
	EID         string // venue order id
	Symbol      string
	Status      types.OrderStatus
	Filled      decimal.Decimal
	Remaining   decimal.Decimal
	Average     decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	CumCost     decimal.Decimal
	TimestampMs int64
	RejectReason string
}

// Signer produces venue authentication for one REST request.
type Signer interface {
	Sign(method, path, query, body string, tsMs int64, apiKey, secret, passphrase string) (SignedRequest, error)
}

// Plugin is the full contract a venue implements to plug into
// PublicConnector, PrivateConnector, and the EMS.
type Plugin interface {
	Exchange() types.Exchange

	BaseURL(at types.AccountType) string
	WSURL(at types.AccountType) string

	Signer() Signer

	// RateLimitKey maps a REST endpoint to the rate-limit bucket it should
	// draw from (e.g. "/order" -> "binance.order", "/depth" ->
	// "binance.public").
	RateLimitKey(endpoint string) string

	// Codec builds the WSClient codec for the given account type — public
	// market-data codecs and private (authenticated) codecs may differ.
	Codec(at types.AccountType) wsclient.Codec

	// RetriableCode reports whether a venue error code is worth retrying.
	RetriableCode(code string) bool
}

// Registry is an open map of Exchange -> Plugin, populated at boot from
// config.
type Registry struct {
	plugins map[types.Exchange]Plugin
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[types.Exchange]Plugin)}
}

// Register adds p under its own Exchange().
func (r *Registry) Register(p Plugin) {
	r.plugins[p.Exchange()] = p
}

// Get returns the plugin for exchange, if registered.
func (r *Registry) Get(exchange types.Exchange) (Plugin, bool) {
	p, ok := r.plugins[exchange]
	return p, ok
}
