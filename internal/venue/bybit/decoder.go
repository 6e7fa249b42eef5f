package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gateway/cex-gateway/internal/privateconn"
	"github.com/gateway/cex-gateway/internal/publicconn"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/pkg/types"
)

// wsEnvelope is the shape shared by every Bybit V5 public and private push
// message: a topic string plus a raw data payload whose shape depends on
// the topic. Subscribe/ping acks carry "op" instead and are ignored.
type wsEnvelope struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
	Ts    int64           `json:"ts"`
}

// PublicDecoder implements publicconn.Decoder for Bybit's public V5
// streams (publicTrade.*, tickers.*), grounded on the "topic"+"data" push
// envelope and the ticker fields (lastPrice/markPrice/bid1Price/ask1Price)
// documented in Bybit's v5 market WS API and exercised the same way the
// other pack example parses tickers.* frames.
type PublicDecoder struct{}

type tradeData struct {
	Symbol string          `json:"s"`
	Price  decimal.Decimal `json:"p"`
	Size   decimal.Decimal `json:"v"`
	Side   string          `json:"S"`
	TsMs   int64           `json:"T"`
}

type tickerData struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	MarkPrice decimal.Decimal `json:"markPrice"`
	IndexPrice decimal.Decimal `json:"indexPrice"`
	Bid1Price decimal.Decimal `json:"bid1Price"`
	Bid1Size  decimal.Decimal `json:"bid1Size"`
	Ask1Price decimal.Decimal `json:"ask1Price"`
	Ask1Size  decimal.Decimal `json:"ask1Size"`
}

func (PublicDecoder) Decode(frame []byte) ([]publicconn.DecodedEvent, error) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("bybit: decode frame: %w", err)
	}
	if env.Op != "" || env.Topic == "" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(env.Topic, "publicTrade."):
		var trades []tradeData
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			return nil, fmt.Errorf("bybit: decode trades: %w", err)
		}
		out := make([]publicconn.DecodedEvent, 0, len(trades))
		for _, t := range trades {
			side := types.Buy
			if t.Side == "Sell" {
				side = types.Sell
			}
			out = append(out, publicconn.DecodedEvent{
				Topic:  types.TopicTrade,
				Kind:   types.KindTrade,
				Symbol: t.Symbol,
				Event: types.Trade{
					Exchange: types.ExchangeBybit,
					Symbol:   t.Symbol,
					Price:    t.Price,
					Size:     t.Size,
					Side:     side,
					TsMs:     t.TsMs,
				},
			})
		}
		return out, nil

	case strings.HasPrefix(env.Topic, "tickers."):
		var d tickerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("bybit: decode ticker: %w", err)
		}
		if d.Symbol == "" {
			return nil, nil
		}
		events := []publicconn.DecodedEvent{{
			Topic:  types.TopicBookL1,
			Kind:   types.KindBookL1,
			Symbol: d.Symbol,
			Event: types.BookL1{
				Exchange: types.ExchangeBybit,
				Symbol:   d.Symbol,
				Bid:      d.Bid1Price,
				BidSize:  d.Bid1Size,
				Ask:      d.Ask1Price,
				AskSize:  d.Ask1Size,
				TsMs:     env.Ts,
			},
		}}
		if !d.MarkPrice.IsZero() {
			events = append(events, publicconn.DecodedEvent{
				Topic:  types.TopicMarkPrice,
				Kind:   types.KindMarkPrice,
				Symbol: d.Symbol,
				Event:  types.MarkPrice{Exchange: types.ExchangeBybit, Symbol: d.Symbol, Price: d.MarkPrice, TsMs: env.Ts},
			})
		}
		if !d.IndexPrice.IsZero() {
			events = append(events, publicconn.DecodedEvent{
				Topic:  types.TopicIndexPrice,
				Kind:   types.KindIndexPrice,
				Symbol: d.Symbol,
				Event:  types.IndexPrice{Exchange: types.ExchangeBybit, Symbol: d.Symbol, Price: d.IndexPrice, TsMs: env.Ts},
			})
		}
		return events, nil

	default:
		return nil, nil
	}
}

// orderData is Bybit's private order-stream row shape (topic "order").
type orderData struct {
	OrderLinkID string          `json:"orderLinkId"`
	OrderID     string          `json:"orderId"`
	Symbol      string          `json:"symbol"`
	OrderStatus string          `json:"orderStatus"`
	CumExecQty  decimal.Decimal `json:"cumExecQty"`
	LeavesQty   decimal.Decimal `json:"leavesQty"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	CumExecFee  decimal.Decimal `json:"cumExecFee"`
	FeeCurrency string          `json:"feeCurrency"`
	CumExecValue decimal.Decimal `json:"cumExecValue"`
	UpdatedTime string          `json:"updatedTime"`
	RejectReason string         `json:"rejectReason"`
}

var bybitStatusMap = map[string]types.OrderStatus{
	"New":             types.StatusAccepted,
	"PartiallyFilled": types.StatusPartiallyFilled,
	"Filled":          types.StatusFilled,
	"Cancelled":       types.StatusCanceled,
	"Rejected":        types.StatusFailed,
	"Deactivated":     types.StatusExpired,
}

// PrivateDecoder implements privateconn.Decoder for Bybit's authenticated
// V5 order/wallet/position streams.
type PrivateDecoder struct{}

func (PrivateDecoder) Decode(frame []byte) ([]privateconn.DecodedEvent, error) {
	var env wsEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("bybit: decode private frame: %w", err)
	}
	if env.Op != "" || env.Topic == "" {
		return nil, nil
	}

	switch env.Topic {
	case "order":
		var rows []orderData
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return nil, fmt.Errorf("bybit: decode order rows: %w", err)
		}
		out := make([]privateconn.DecodedEvent, 0, len(rows))
		for _, r := range rows {
			status, ok := bybitStatusMap[r.OrderStatus]
			if !ok {
				continue
			}
			out = append(out, privateconn.DecodedEvent{Order: &venue.OrderEvent{
				OID:          r.OrderLinkID,
				EID:          r.OrderID,
				Symbol:       r.Symbol,
				Status:       status,
				Filled:       r.CumExecQty,
				Remaining:    r.LeavesQty,
				Average:      r.AvgPrice,
				Fee:          r.CumExecFee,
				FeeCurrency:  r.FeeCurrency,
				CumCost:      r.CumExecValue,
				RejectReason: r.RejectReason,
			}})
		}
		return out, nil

	case "wallet":
		var rows []struct {
			Coin []struct {
				Coin            string          `json:"coin"`
				WalletBalance   decimal.Decimal `json:"walletBalance"`
				Locked          decimal.Decimal `json:"locked"`
			} `json:"coin"`
			AccountType string `json:"accountType"`
		}
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return nil, fmt.Errorf("bybit: decode wallet rows: %w", err)
		}
		out := make([]privateconn.DecodedEvent, 0)
		for _, row := range rows {
			for _, c := range row.Coin {
				bal := types.Balance{
					Asset:  c.Coin,
					Free:   c.WalletBalance.Sub(c.Locked),
					Locked: c.Locked,
				}
				out = append(out, privateconn.DecodedEvent{Balance: &bal, AccountType: "linear"})
			}
		}
		return out, nil

	case "position":
		var rows []struct {
			Symbol       string          `json:"symbol"`
			Side         string          `json:"side"`
			Size         decimal.Decimal `json:"size"`
			EntryPrice   decimal.Decimal `json:"entryPrice"`
			UnrealisedPnl decimal.Decimal `json:"unrealisedPnl"`
			CumRealisedPnl decimal.Decimal `json:"cumRealisedPnl"`
			UpdatedTime  int64           `json:"updatedTime,string"`
		}
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return nil, fmt.Errorf("bybit: decode position rows: %w", err)
		}
		out := make([]privateconn.DecodedEvent, 0, len(rows))
		for _, r := range rows {
			signed := r.Size
			if r.Side == "Sell" {
				signed = signed.Neg()
			}
			out = append(out, privateconn.DecodedEvent{Position: &types.Position{
				Symbol:        r.Symbol,
				Exchange:      types.ExchangeBybit,
				SignedAmount:  signed,
				EntryPrice:    r.EntryPrice,
				UnrealizedPnL: r.UnrealisedPnl,
				RealizedPnL:   r.CumRealisedPnl,
				UpdatedAtMs:   r.UpdatedTime,
			}})
		}
		return out, nil

	default:
		return nil, nil
	}
}
