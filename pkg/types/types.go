// Package types defines the canonical vocabulary shared across every layer
// of the gateway — instrument identity, market specs, orders, positions,
// balances, and the normalised market-data events every venue connector
// produces. It has no dependency on internal packages so it can be
// imported by strategy code and every connector alike.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType enumerates the order lifecycles the gateway understands.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypePostOnly   OrderType = "POST_ONLY"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// TimeInForce governs how long a resting order remains eligible to match.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFALO TimeInForce = "ALO" // post-only / "add liquidity only"
)

// OrderStatus is the canonical order lifecycle state, see spec §4.L.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusFailed          OrderStatus = "FAILED"
	StatusReplaced        OrderStatus = "REPLACED"
	StatusReplaceFailed   OrderStatus = "REPLACE_FAILED"
	StatusCanceling       OrderStatus = "CANCELING"
	StatusCancelFailed    OrderStatus = "CANCEL_FAILED"
)

// IsTerminal reports whether status is sticky (spec §4.L: "terminal is sticky").
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// statusPriority orders statuses for the "prefer resting over filled when
// both appear in the same response" tie-break (spec §9 Open Questions #1).
// Lower index wins.
var statusPriority = map[OrderStatus]int{
	StatusAccepted:        0,
	StatusPartiallyFilled: 1,
	StatusFilled:          2,
	StatusCanceled:        3,
	StatusExpired:         4,
	StatusFailed:          5,
}

// PreferRestingOverFilled picks between two simultaneously-reported statuses,
// preferring the resting (ACCEPTED/PARTIALLY_FILLED) status when both are
// present in the same venue payload, per spec §9.
func PreferRestingOverFilled(a, b OrderStatus) OrderStatus {
	pa, aok := statusPriority[a]
	pb, bok := statusPriority[b]
	if !aok {
		return b
	}
	if !bok {
		return a
	}
	if pa <= pb {
		return a
	}
	return b
}

// Exchange identifies a venue by its canonical tag.
type Exchange string

const (
	ExchangeBinance     Exchange = "BINANCE"
	ExchangeBybit       Exchange = "BYBIT"
	ExchangeOKX         Exchange = "OKX"
	ExchangeHyperliquid Exchange = "HYPERLIQUID"
	ExchangeKuCoin      Exchange = "KUCOIN"
	ExchangeBitget      Exchange = "BITGET"
)

// InstrumentSubtype classifies the traded product.
type InstrumentSubtype string

const (
	SubtypeSpot    InstrumentSubtype = "spot"
	SubtypeLinear  InstrumentSubtype = "linear"
	SubtypeInverse InstrumentSubtype = "inverse"
	SubtypeFuture  InstrumentSubtype = "future"
	SubtypeOption  InstrumentSubtype = "option"
)

// AccountKind enumerates venue-specific account modes, see GLOSSARY.
type AccountKind string

const (
	AccountSpot            AccountKind = "spot"
	AccountLinear          AccountKind = "linear"
	AccountInverse         AccountKind = "inverse"
	AccountUnifiedMargin   AccountKind = "unified_margin"
	AccountPortfolioMargin AccountKind = "portfolio_margin"
	AccountSpotDemo        AccountKind = "spot_demo"
	AccountLinearDemo      AccountKind = "linear_demo"
)

// AccountType binds a venue-specific account mode to its REST/WS endpoints.
// Immutable after construction.
type AccountType struct {
	Exchange    Exchange
	Kind        AccountKind
	RestBaseURL string
	WSBaseURL   string
}

func (a AccountType) String() string {
	return fmt.Sprintf("%s:%s", a.Exchange, a.Kind)
}

// ————————————————————————————————————————————————————————————————————————
// InstrumentId
// ————————————————————————————————————————————————————————————————————————

// InstrumentId is the parsed form of a canonical symbol string, e.g.
// "BTCUSDT-PERP.BINANCE" or "BTCUSDT-20250627.OKX" or "BTCUSDT.BINANCE".
type InstrumentId struct {
	SymbolPrefix string // e.g. "BTCUSDT"
	Subtype      InstrumentSubtype
	Exchange     Exchange
	DatedSuffix  string // yyyymmdd, only set for SubtypeFuture
}

// ParseInstrumentId parses the canonical "<base><quote>[-PERP|-yyyymmdd].<EXCHANGE>"
// form described in spec §6.1.
func ParseInstrumentId(s string) (InstrumentId, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 || dot == len(s)-1 {
		return InstrumentId{}, fmt.Errorf("types: invalid instrument id %q: missing .EXCHANGE suffix", s)
	}
	body := s[:dot]
	exchange := Exchange(strings.ToUpper(s[dot+1:]))

	if idx := strings.LastIndexByte(body, '-'); idx >= 0 {
		suffix := body[idx+1:]
		switch {
		case suffix == "PERP":
			return InstrumentId{SymbolPrefix: body[:idx], Subtype: SubtypeLinear, Exchange: exchange}, nil
		case isAllDigits(suffix) && len(suffix) == 8:
			return InstrumentId{SymbolPrefix: body[:idx], Subtype: SubtypeFuture, Exchange: exchange, DatedSuffix: suffix}, nil
		}
	}
	return InstrumentId{SymbolPrefix: body, Subtype: SubtypeSpot, Exchange: exchange}, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String reconstructs the canonical symbol string.
func (id InstrumentId) String() string {
	var b strings.Builder
	b.WriteString(id.SymbolPrefix)
	switch id.Subtype {
	case SubtypeLinear:
		b.WriteString("-PERP")
	case SubtypeFuture:
		b.WriteByte('-')
		b.WriteString(id.DatedSuffix)
	}
	b.WriteByte('.')
	b.WriteString(string(id.Exchange))
	return b.String()
}

// ————————————————————————————————————————————————————————————————————————
// Market — tagged-variant sum type per spec §9 DESIGN NOTES
// ————————————————————————————————————————————————————————————————————————

// Market is the immutable, venue-reported specification of a tradeable
// instrument. Implemented by SpotMarket, LinearMarket, and InverseMarket —
// a sum type standing in for the source's BaseMarket/BinanceMarket
// inheritance hierarchy.
type Market interface {
	Instrument() InstrumentId
	PriceTick() decimal.Decimal
	AmountLot() decimal.Decimal
	MinNotional() decimal.Decimal
	MinOrderAmount() decimal.Decimal
	BaseAsset() string
	QuoteAsset() string

	// QuantizePrice rounds price to an integer multiple of the tick, rounding
	// toward the marketable direction for the given side (spec §4.M.2):
	// ceiling for buys, floor for sells.
	QuantizePrice(price decimal.Decimal, side Side) decimal.Decimal
	// QuantizeAmount rounds amount down to an integer multiple of the lot,
	// unless roundUp is explicitly requested.
	QuantizeAmount(amount decimal.Decimal, roundUp bool) decimal.Decimal
}

// marketBase holds the fields common to every market variant.
type marketBase struct {
	Id             InstrumentId
	Base           string
	Quote          string
	Tick           decimal.Decimal
	Lot            decimal.Decimal
	MinNotionalAmt decimal.Decimal
	MinAmount      decimal.Decimal
}

func (m marketBase) Instrument() InstrumentId        { return m.Id }
func (m marketBase) PriceTick() decimal.Decimal      { return m.Tick }
func (m marketBase) AmountLot() decimal.Decimal      { return m.Lot }
func (m marketBase) MinNotional() decimal.Decimal    { return m.MinNotionalAmt }
func (m marketBase) MinOrderAmount() decimal.Decimal { return m.MinAmount }
func (m marketBase) BaseAsset() string               { return m.Base }
func (m marketBase) QuoteAsset() string               { return m.Quote }

func (m marketBase) QuantizePrice(price decimal.Decimal, side Side) decimal.Decimal {
	if m.Tick.IsZero() {
		return price
	}
	units := price.Div(m.Tick)
	var rounded decimal.Decimal
	switch side {
	case Buy:
		rounded = units.Ceil()
	default:
		rounded = units.Floor()
	}
	return rounded.Mul(m.Tick)
}

func (m marketBase) QuantizeAmount(amount decimal.Decimal, roundUp bool) decimal.Decimal {
	if m.Lot.IsZero() {
		return amount
	}
	units := amount.Div(m.Lot)
	if roundUp {
		units = units.Ceil()
	} else {
		units = units.Floor()
	}
	return units.Mul(m.Lot)
}

// SpotMarket is a cash/spot instrument.
type SpotMarket struct {
	marketBase
}

// NewSpotMarket constructs an immutable spot market spec.
func NewSpotMarket(id InstrumentId, base, quote string, tick, lot, minNotional, minAmount decimal.Decimal) SpotMarket {
	return SpotMarket{marketBase{Id: id, Base: base, Quote: quote, Tick: tick, Lot: lot, MinNotionalAmt: minNotional, MinAmount: minAmount}}
}

// LinearMarket is a USDT/USDC-margined perpetual or dated future.
type LinearMarket struct {
	marketBase
	ContractMultiplier decimal.Decimal
	MaxLeverage        decimal.Decimal
	MinLeverage        decimal.Decimal
}

// NewLinearMarket constructs an immutable linear-contract market spec.
func NewLinearMarket(id InstrumentId, base, quote string, tick, lot, minNotional, minAmount, multiplier, minLev, maxLev decimal.Decimal) LinearMarket {
	return LinearMarket{
		marketBase:         marketBase{Id: id, Base: base, Quote: quote, Tick: tick, Lot: lot, MinNotionalAmt: minNotional, MinAmount: minAmount},
		ContractMultiplier: multiplier,
		MinLeverage:        minLev,
		MaxLeverage:        maxLev,
	}
}

// InverseMarket is a coin-margined perpetual or dated future.
type InverseMarket struct {
	marketBase
	ContractMultiplier decimal.Decimal
	MaxLeverage        decimal.Decimal
	MinLeverage        decimal.Decimal
}

// NewInverseMarket constructs an immutable inverse-contract market spec.
func NewInverseMarket(id InstrumentId, base, quote string, tick, lot, minNotional, minAmount, multiplier, minLev, maxLev decimal.Decimal) InverseMarket {
	return InverseMarket{
		marketBase:         marketBase{Id: id, Base: base, Quote: quote, Tick: tick, Lot: lot, MinNotionalAmt: minNotional, MinAmount: minAmount},
		ContractMultiplier: multiplier,
		MinLeverage:        minLev,
		MaxLeverage:        maxLev,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is the canonical order representation that flows between EMS, OMS,
// Cache, and the strategy sink.
type Order struct {
	OID          string // client-generated identifier, unique per run
	EID          string // venue-assigned identifier, empty until registered
	Exchange     Exchange
	Symbol       string // canonical instrument string
	Side         Side
	Type         OrderType
	Amount       decimal.Decimal
	Price        decimal.Decimal // zero value means "no price" for market orders
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	Average      decimal.Decimal
	TimeInForce  TimeInForce
	ReduceOnly   bool
	Status       OrderStatus
	TimestampMs  int64
	Fee          decimal.Decimal
	FeeCurrency  string
	CumCost      decimal.Decimal
	RejectReason string // set when Status == StatusFailed
}

// Position is the authoritative signed exposure for one symbol.
type Position struct {
	Symbol        string
	Exchange      Exchange
	SignedAmount  decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	UpdatedAtMs   int64
}

// PositionSide derives long/short/flat from SignedAmount, spec §3.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

// Side derives the position's directional label.
func (p Position) Side() PositionSide {
	switch {
	case p.SignedAmount.IsPositive():
		return PositionLong
	case p.SignedAmount.IsNegative():
		return PositionShort
	default:
		return PositionFlat
	}
}

// Balance is a single asset's free/locked funds for one account type.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns Free + Locked.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// ————————————————————————————————————————————————————————————————————————
// Market data events — all carry (Exchange, Symbol) per spec §3.
// ————————————————————————————————————————————————————————————————————————

// MarketDataKind tags which last_market_data slot an event occupies.
type MarketDataKind string

const (
	KindBookL1      MarketDataKind = "bookl1"
	KindBookL2      MarketDataKind = "bookl2"
	KindTrade       MarketDataKind = "trade"
	KindKline       MarketDataKind = "kline"
	KindFundingRate MarketDataKind = "funding_rate"
	KindIndexPrice  MarketDataKind = "index_price"
	KindMarkPrice   MarketDataKind = "mark_price"
)

// BookL1 is the top-of-book quote.
type BookL1 struct {
	Exchange Exchange
	Symbol   string
	Bid      decimal.Decimal
	BidSize  decimal.Decimal
	Ask      decimal.Decimal
	AskSize  decimal.Decimal
	TsMs     int64
}

// BookLevel is a single price/size pair in a depth book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookL2 carries the depth levels a venue decoder produced. Neither the
// event nor the venue plugin records whether those levels are a full
// snapshot or a delta.
type BookL2 struct {
	Exchange Exchange
	Symbol   string
	Bids     []BookLevel
	Asks     []BookLevel
	TsMs     int64
}

// Trade is a single public trade print.
type Trade struct {
	Exchange Exchange
	Symbol   string
	Price    decimal.Decimal
	Size     decimal.Decimal
	Side     Side
	TsMs     int64
}

// Kline is one candle of a kline/candlestick stream.
type Kline struct {
	Exchange Exchange
	Symbol   string
	Interval string
	StartMs  int64
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Confirm  bool // true once the candle is closed
	TsMs     int64
}

// FundingRate is a perpetual funding-rate update.
type FundingRate struct {
	Exchange      Exchange
	Symbol        string
	Rate          decimal.Decimal
	NextFundingMs int64
	TsMs          int64
}

// IndexPrice is the venue's computed index price for a derivative.
type IndexPrice struct {
	Exchange Exchange
	Symbol   string
	Price    decimal.Decimal
	TsMs     int64
}

// MarkPrice is the venue's computed mark price for a derivative.
type MarkPrice struct {
	Exchange Exchange
	Symbol   string
	Price    decimal.Decimal
	TsMs     int64
}

// ————————————————————————————————————————————————————————————————————————
// Subscriptions
// ————————————————————————————————————————————————————————————————————————

// TopicKind is a message-bus topic kind from the fixed set in spec §6.2.
type TopicKind string

const (
	TopicTrade       TopicKind = "trade"
	TopicBookL1      TopicKind = "bookl1"
	TopicBookL2      TopicKind = "bookl2"
	TopicKline       TopicKind = "kline"
	TopicFundingRate TopicKind = "funding_rate"
	TopicMarkPrice   TopicKind = "mark_price"
	TopicIndexPrice  TopicKind = "index_price"

	// Private-stream subscription kinds (spec §4.K): these never appear as
	// MessageBus topics themselves — OrderTopic/BalanceTopic/PositionTopic
	// carry the canonical per-exchange publish topic instead — but they do
	// identify a PrivateConnector's WS subscriptions in a SubscriptionKey.
	TopicOrder     TopicKind = "order"
	TopicExecution TopicKind = "execution"
	TopicBalance   TopicKind = "balance"
	TopicPosition  TopicKind = "position"
)

// OrderTopic returns the per-exchange order topic, e.g. "binance.order".
func OrderTopic(e Exchange) string { return strings.ToLower(string(e)) + ".order" }

// PositionTopic returns the per-exchange position topic.
func PositionTopic(e Exchange) string { return strings.ToLower(string(e)) + ".position" }

// BalanceTopic returns the per-exchange balance topic.
func BalanceTopic(e Exchange) string { return strings.ToLower(string(e)) + ".balance" }

// SubscriptionKey uniquely identifies one subscription a WSClient should
// maintain across reconnects, see spec §3.
type SubscriptionKey struct {
	Kind     TopicKind
	Symbol   string
	Interval string // kline interval, when Kind == TopicKline
	Depth    int    // book depth, when Kind == TopicBookL2
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", k.Kind, k.Symbol, k.Interval, k.Depth)
}

// ParseDecimalOrZero parses s as a decimal, returning decimal.Zero on any
// parse failure — used for venue payloads where a missing numeric field is
// semantically "no value" rather than an error.
func ParseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// NowMs is a tiny helper so venue decoders that don't otherwise depend on
// the clock package can stamp received-at timestamps cheaply;
// the runtime's internal/clock.Clock (NowMs/Now) remains the source of
// truth for timestamps the runtime itself emits.
func NowMs(t time.Time) int64 { return t.UnixMilli() }
