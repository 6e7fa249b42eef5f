package engine

import (
	"github.com/shopspring/decimal"

	"github.com/gateway/cex-gateway/internal/config"
	"github.com/gateway/cex-gateway/pkg/types"
)

// seedMockAccount seeds the Cache with a synthetic quote-currency balance
// (no position; OverwritePosition is not read) for one
// (exchange, account_type) pair, for
// private_conn_config entries under is_mock: true. Mock mode replaces only
// the account/order side of a venue — public market data still comes from
// a real PublicConnector, matching the spec's distinction between
// simulated fills and live quotes; nothing in this build fabricates a
// market feed.
func (e *Engine) seedMockAccount(exchange types.Exchange, pc config.PrivateConnConfig) {
	at := types.AccountType{Exchange: exchange, Kind: types.AccountKind(pc.AccountType)}

	quote := pc.QuoteCurrency
	if quote == "" {
		quote = "USDT"
	}
	initial := decimal.NewFromFloat(pc.InitialBalance)
	if pc.OverwriteBalance || pc.InitialBalance != 0 {
		e.cache.ApplyBalance(at.String(), types.Balance{Asset: quote, Free: initial})
	}
}
