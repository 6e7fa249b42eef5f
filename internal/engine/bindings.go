package engine

import (
	"github.com/gateway/cex-gateway/internal/ems"
	"github.com/gateway/cex-gateway/internal/privateconn"
	"github.com/gateway/cex-gateway/internal/publicconn"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/internal/venue/binance"
	"github.com/gateway/cex-gateway/internal/venue/bitget"
	"github.com/gateway/cex-gateway/internal/venue/bybit"
	"github.com/gateway/cex-gateway/internal/venue/hyperliquid"
	"github.com/gateway/cex-gateway/internal/venue/kucoin"
	"github.com/gateway/cex-gateway/internal/venue/okx"
	"github.com/gateway/cex-gateway/pkg/types"
)

// VenueBinding bundles a venue.Plugin with the concrete wire-protocol
// glue PublicConnector/PrivateConnector/EMS need: decode, submit, and
// REST-seed functions. A binding with a nil Public/Private/Submit/Seed
// hook means the exchange signs and encodes subscriptions (it satisfies
// venue.Plugin) but has no decode/submit implementation in this build —
// Engine skips wiring a connector for it rather than constructing one it
// cannot run, and logs why.
type VenueBinding struct {
	Plugin venue.Plugin

	PublicDecoder  func(at types.AccountType) publicconn.Decoder
	PrivateDecoder func(at types.AccountType) privateconn.Decoder
	Submitter      func(kind types.AccountKind) ems.Submitter
	Seed           func(at types.AccountType) privateconn.Seed
}

// buildBindings registers every venue package's Plugin, both in the
// returned map (keyed for the wire-protocol hooks below) and in a
// venue.Registry (keyed off each Plugin's own Exchange()) that Engine
// uses for every plain Plugin lookup. Bybit is this build's one fully
// end-to-end binding (decode, submit, and REST seed fetchers all
// implemented); binance/okx/kucoin/bitget/hyperliquid register signing +
// subscription-encoding only, an explicit scope decision recorded in
// DESIGN.md rather than a silent gap — Engine is structured so adding a
// second venue's Decoder/Submitter/Seed here is the only change needed
// to bring it fully online.
func buildBindings() (map[types.Exchange]VenueBinding, *venue.Registry) {
	bindings := map[types.Exchange]VenueBinding{
		types.ExchangeBinance:     {Plugin: binance.New()},
		types.ExchangeOKX:         {Plugin: okx.New()},
		types.ExchangeKuCoin:      {Plugin: kucoin.New()},
		types.ExchangeBitget:      {Plugin: bitget.New()},
		types.ExchangeHyperliquid: {Plugin: hyperliquid.New(0)},
	}

	bindings[types.ExchangeBybit] = VenueBinding{
		Plugin: bybit.New(),
		PublicDecoder: func(at types.AccountType) publicconn.Decoder {
			return bybit.PublicDecoder{}
		},
		PrivateDecoder: func(at types.AccountType) privateconn.Decoder {
			return bybit.PrivateDecoder{}
		},
		Submitter: func(kind types.AccountKind) ems.Submitter {
			return bybit.Submitter{Kind: kind}
		},
		Seed: func(at types.AccountType) privateconn.Seed {
			category := bybitCategory(at.Kind)
			return privateconn.Seed{
				Balances:     bybit.FetchBalances("UNIFIED"),
				Positions:    bybit.FetchPositions(category),
				PositionMode: bybit.CheckPositionMode(category),
			}
		},
	}

	plugins := venue.NewRegistry()
	for _, b := range bindings {
		plugins.Register(b.Plugin)
	}
	return bindings, plugins
}

func bybitCategory(kind types.AccountKind) string {
	switch kind {
	case types.AccountLinear:
		return "linear"
	case types.AccountInverse:
		return "inverse"
	default:
		return "spot"
	}
}
