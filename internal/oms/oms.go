// Package oms implements the Order Management System: per-exchange
// reconciliation of venue order/execution events against locally generated
// client order ids, applying the canonical status state machine and
// publishing the result on the message bus.
package oms

import (
	"log/slog"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/registry"
	"github.com/gateway/cex-gateway/internal/venue"
	"github.com/gateway/cex-gateway/pkg/types"
)

// legalTransitions is the status state machine's directed graph: for each
// current status, the set of statuses an inbound event may move it to.
// Terminal statuses have no outgoing edges — terminal is sticky.
var legalTransitions = map[types.OrderStatus]map[types.OrderStatus]bool{
	types.StatusPending: {
		types.StatusAccepted: true,
		types.StatusFailed:   true,
		types.StatusExpired:  true,
	},
	types.StatusAccepted: {
		types.StatusPartiallyFilled: true,
		types.StatusFilled:          true,
		types.StatusCanceled:        true,
		types.StatusExpired:         true,
		types.StatusReplaced:        true,
		types.StatusReplaceFailed:   true,
		types.StatusCanceling:       true,
		types.StatusCancelFailed:    true,
	},
	types.StatusPartiallyFilled: {
		types.StatusFilled:        true,
		types.StatusCanceled:      true,
		types.StatusExpired:       true,
		types.StatusReplaced:      true,
		types.StatusReplaceFailed: true,
		types.StatusCanceling:     true,
		types.StatusCancelFailed:  true,
	},
	// transient modifiers fall back to the resting status they interrupted
	types.StatusReplaced: {
		types.StatusAccepted:        true,
		types.StatusPartiallyFilled: true,
		types.StatusFilled:          true,
		types.StatusCanceled:        true,
		types.StatusExpired:         true,
	},
	types.StatusReplaceFailed: {
		types.StatusAccepted:        true,
		types.StatusPartiallyFilled: true,
	},
	types.StatusCanceling: {
		types.StatusCanceled:        true,
		types.StatusCancelFailed:    true,
		types.StatusFilled:          true,
		types.StatusPartiallyFilled: true,
	},
	types.StatusCancelFailed: {
		types.StatusAccepted:        true,
		types.StatusPartiallyFilled: true,
		types.StatusCanceling:       true,
	},
}

// Manager is the per-exchange OMS: it consumes a channel of raw
// venue.OrderEvent, resolves each to a local order, runs the state
// machine, and writes through Cache + Bus.
type Manager struct {
	exchange types.Exchange
	cache    *cache.Cache
	bus      *bus.Bus
	registry *registry.Registry
	logger   *slog.Logger
}

// New constructs an OMS Manager for one exchange.
func New(exchange types.Exchange, c *cache.Cache, b *bus.Bus, r *registry.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		exchange: exchange,
		cache:    c,
		bus:      b,
		registry: r,
		logger:   logger.With("component", "oms", "exchange", string(exchange)),
	}
}

// Run drains events until the channel closes, processing each in arrival
// order — callers own the goroutine (per exchange, fed by the
// PrivateConnector's dispatch).
func (m *Manager) Run(events <-chan venue.OrderEvent) {
	for ev := range events {
		m.Handle(ev)
	}
}

// Handle resolves ev to a local order, applies the transition and merge
// rules, writes through the Cache, and publishes on <exchange>.order.
func (m *Manager) Handle(ev venue.OrderEvent) {
	oid, order, ok := m.resolve(ev)
	if !ok {
		m.logger.Debug("order event did not resolve to a local order, ignoring", "eid", ev.EID, "oid", ev.OID)
		return
	}

	if order.Status.IsTerminal() {
		m.logger.Debug("dropping update for already-terminal order", "oid", oid, "status", order.Status)
		return
	}

	next := ev.Status
	if !m.legal(order.Status, next) {
		m.logger.Warn("illegal status transition, dropping", "oid", oid, "from", order.Status, "to", next)
		return
	}

	merged := mergeOrder(order, ev)
	merged.Status = next
	if ev.EID != "" {
		merged.EID = ev.EID
		if _, linked := m.registry.GetEID(oid); !linked {
			m.registry.Link(ev.EID, oid)
		}
	}

	m.cache.ApplyOrder(merged)
	m.bus.Publish(types.OrderTopic(m.exchange), merged)

	if next.IsTerminal() {
		m.registry.Remove(&merged)
	}
}

// resolve looks an inbound event up by eid first, falling back to the
// client tag the EMS set as oid (spec §4.L step 1). Returns false on a
// benign race (neither is known yet).
func (m *Manager) resolve(ev venue.OrderEvent) (string, types.Order, bool) {
	if ev.EID != "" {
		if oid, ok := m.registry.GetOID(ev.EID); ok {
			if order, ok := m.cache.GetOrder(oid); ok {
				return oid, order, true
			}
		}
	}
	if ev.OID != "" {
		if order, ok := m.cache.GetOrder(ev.OID); ok {
			return ev.OID, order, true
		}
		if tmp, ok := m.registry.TmpOrder(ev.OID); ok {
			return ev.OID, *tmp, true
		}
	}
	return "", types.Order{}, false
}

func (m *Manager) legal(from, to types.OrderStatus) bool {
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}

// mergeOrder folds ev's fields into order conservatively: filled and
// cum_cost never decrease.
func mergeOrder(order types.Order, ev venue.OrderEvent) types.Order {
	out := order
	if ev.Filled.GreaterThan(out.Filled) {
		out.Filled = ev.Filled
	}
	if ev.CumCost.GreaterThan(out.CumCost) {
		out.CumCost = ev.CumCost
	}
	if !ev.Remaining.IsZero() || ev.Status.IsTerminal() {
		out.Remaining = ev.Remaining
	}
	if !ev.Average.IsZero() {
		out.Average = ev.Average
	}
	if !ev.Fee.IsZero() {
		out.Fee = ev.Fee
	}
	if ev.FeeCurrency != "" {
		out.FeeCurrency = ev.FeeCurrency
	}
	if ev.TimestampMs > out.TimestampMs {
		out.TimestampMs = ev.TimestampMs
	}
	if ev.RejectReason != "" {
		out.RejectReason = ev.RejectReason
	}
	return out
}
