package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gateway/cex-gateway/internal/config"
	"github.com/gateway/cex-gateway/pkg/types"
)

// buildMarkets parses each config.MarketConfig into a types.Market, keyed
// by symbol and grouped per exchange, per the canonical symbol grammar
// spec §6.1 defines (ParseInstrumentId's subtype decides spot vs linear vs
// inverse).
func buildMarkets(entries []config.MarketConfig) (map[types.Exchange]map[string]types.Market, error) {
	out := make(map[types.Exchange]map[string]types.Market)
	for _, e := range entries {
		id, err := types.ParseInstrumentId(e.Symbol)
		if err != nil {
			return nil, fmt.Errorf("engine: market %q: %w", e.Symbol, err)
		}

		tick, lot, minNotional, minAmount, err := parseDecimals(e.PriceTick, e.AmountLot, e.MinNotional, e.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("engine: market %q: %w", e.Symbol, err)
		}

		var m types.Market
		switch id.Subtype {
		case types.SubtypeLinear, types.SubtypeFuture:
			multiplier, minLev, maxLev, err := parseContractFields(e)
			if err != nil {
				return nil, fmt.Errorf("engine: market %q: %w", e.Symbol, err)
			}
			m = types.NewLinearMarket(id, e.Base, e.Quote, tick, lot, minNotional, minAmount, multiplier, minLev, maxLev)
		case types.SubtypeInverse:
			multiplier, minLev, maxLev, err := parseContractFields(e)
			if err != nil {
				return nil, fmt.Errorf("engine: market %q: %w", e.Symbol, err)
			}
			m = types.NewInverseMarket(id, e.Base, e.Quote, tick, lot, minNotional, minAmount, multiplier, minLev, maxLev)
		default:
			m = types.NewSpotMarket(id, e.Base, e.Quote, tick, lot, minNotional, minAmount)
		}

		if out[id.Exchange] == nil {
			out[id.Exchange] = make(map[string]types.Market)
		}
		out[id.Exchange][e.Symbol] = m
	}
	return out, nil
}

func parseDecimals(vals ...string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	parsed := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := decimal.NewFromString(orZero(v))
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, err
		}
		parsed[i] = d
	}
	return parsed[0], parsed[1], parsed[2], parsed[3], nil
}

func parseContractFields(e config.MarketConfig) (decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	multiplier, err := decimal.NewFromString(orOne(e.Multiplier))
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	minLev, err := decimal.NewFromString(orOne(e.MinLeverage))
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	maxLev, err := decimal.NewFromString(orOne(e.MaxLeverage))
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return multiplier, minLev, maxLev, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func orOne(s string) string {
	if s == "" {
		return "1"
	}
	return s
}
