// Package ems implements the Execution Management System: per-exchange
// translation of strategy order intents into venue submissions, with
// precision/minimum enforcement, per-account-type FIFO queueing, and the
// TWAP slicer, per spec §4.M.
package ems

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gateway/cex-gateway/internal/bus"
	"github.com/gateway/cex-gateway/internal/cache"
	"github.com/gateway/cex-gateway/internal/clock"
	"github.com/gateway/cex-gateway/internal/registry"
	"github.com/gateway/cex-gateway/internal/restclient"
	"github.com/gateway/cex-gateway/pkg/errs"
	"github.com/gateway/cex-gateway/pkg/types"
)

// Submitter issues the venue-specific REST calls behind each EMS operation.
// The EMS owns preprocessing, queueing, and the canonical Order lifecycle;
// Submitter only knows how to talk to one venue's order endpoints.
type Submitter interface {
	CreateOrder(ctx context.Context, rest *restclient.Client, order types.Order) (eid string, err error)
	ModifyOrder(ctx context.Context, rest *restclient.Client, order types.Order) (eid string, err error)
	CancelOrder(ctx context.Context, rest *restclient.Client, oid, eid, symbol string) error
	CancelAllOrders(ctx context.Context, rest *restclient.Client, symbol string) error
}

// AccountResolver picks the account type an instrument trades under, per
// spec §4.M.4 (explicit override wins; otherwise resolved from the
// instrument's subtype by venue-specific policy).
type AccountResolver func(id types.InstrumentId) (types.AccountType, error)

// CreateOrderParams is one create_order call.
type CreateOrderParams struct {
	OID         string
	Symbol      string
	Side        types.Side
	Type        types.OrderType
	Amount      decimal.Decimal
	Price       decimal.Decimal
	TIF         types.TimeInForce
	ReduceOnly  bool
	AccountType *types.AccountType // explicit override; nil defers to AccountResolver
}

// ModifyOrderParams is one modify_order call; nil fields are left
// unchanged.
type ModifyOrderParams struct {
	OID    string
	Side   *types.Side
	Price  *decimal.Decimal
	Amount *decimal.Decimal
}

// TWAPParams is one create_twap call, per spec §4.M's TWAP algorithm.
type TWAPParams struct {
	Symbol      string
	Side        types.Side
	TotalAmount decimal.Decimal
	DurationS   float64
	WaitS       float64
	ReduceOnly  bool
	AccountType *types.AccountType
}

type submission struct {
	op     string // "create", "modify", "cancel", "cancel_all"
	order  types.Order
	params any
	done   chan error
}

// Manager is the per-exchange EMS.
type Manager struct {
	exchange types.Exchange
	markets  map[string]types.Market
	resolve  AccountResolver
	rest     map[types.AccountKind]*restclient.Client
	submit   Submitter

	registry *registry.Registry
	cache    *cache.Cache
	bus      *bus.Bus
	clk      clock.Clock
	logger   *slog.Logger

	queues map[types.AccountKind]chan submission

	mu    sync.Mutex
	twaps map[string]context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an EMS Manager. rest supplies one REST client per account
// kind the venue trades (spot, linear, ...); queues are started lazily via
// Start.
func New(exchange types.Exchange, markets map[string]types.Market, resolve AccountResolver, rest map[types.AccountKind]*restclient.Client, submit Submitter, r *registry.Registry, c *cache.Cache, b *bus.Bus, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		exchange: exchange,
		markets:  markets,
		resolve:  resolve,
		rest:     rest,
		submit:   submit,
		registry: r,
		cache:    c,
		bus:      b,
		clk:      clk,
		logger:   logger.With("component", "ems", "exchange", string(exchange)),
		queues:   make(map[types.AccountKind]chan submission),
		twaps:    make(map[string]context.CancelFunc),
		sleep:    ctxSleep,
	}
}

// Start launches one FIFO consumer goroutine per account kind present in
// rest, each draining its submit queue until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	for kind := range m.rest {
		q := make(chan submission, 64)
		m.queues[kind] = q
		go m.consume(ctx, kind, q)
	}
}

func (m *Manager) consume(ctx context.Context, kind types.AccountKind, q chan submission) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-q:
			sub.done <- m.process(ctx, kind, sub)
		}
	}
}

func (m *Manager) queueFor(kind types.AccountKind) (chan submission, error) {
	q, ok := m.queues[kind]
	if !ok {
		return nil, fmt.Errorf("ems: no submit queue configured for account kind %q", kind)
	}
	return q, nil
}

// CreateOrder preprocesses and enqueues a create_order intent, per spec
// §4.M steps 1-4. The PENDING order is published on the bus and applied to
// the Cache before it is queued; CreateOrder then blocks until the queue
// consumer reports the venue submission's result (or ctx is done) and
// returns the order as the Cache holds it at that point.
func (m *Manager) CreateOrder(ctx context.Context, p CreateOrderParams) (types.Order, error) {
	market, ok := m.markets[p.Symbol]
	if !ok {
		return m.failFast(p.OID, p.Symbol, p.Side, p.Type, fmt.Errorf("ems: unknown symbol %q", p.Symbol))
	}

	price := p.Price
	if !price.IsZero() {
		price = market.QuantizePrice(price, p.Side)
	}
	amount := market.QuantizeAmount(p.Amount, false)

	if amount.LessThan(market.MinOrderAmount()) {
		return m.failFast(p.OID, p.Symbol, p.Side, p.Type, &errs.OrderError{OID: p.OID, Reason: "below_minimum"})
	}
	if !price.IsZero() && price.Mul(amount).LessThan(market.MinNotional()) {
		return m.failFast(p.OID, p.Symbol, p.Side, p.Type, &errs.OrderError{OID: p.OID, Reason: "below_min_notional"})
	}

	at, err := m.accountType(market.Instrument(), p.AccountType)
	if err != nil {
		return m.failFast(p.OID, p.Symbol, p.Side, p.Type, err)
	}

	order := types.Order{
		OID:         p.OID,
		Exchange:    m.exchange,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Type:        p.Type,
		Amount:      amount,
		Price:       price,
		Remaining:   amount,
		TimeInForce: p.TIF,
		ReduceOnly:  p.ReduceOnly,
		Status:      types.StatusPending,
		TimestampMs: m.clk.NowMs(),
	}
	m.cache.ApplyOrder(order)
	m.registry.RegisterTmpOrder(&order)
	m.bus.Publish(types.OrderTopic(m.exchange), order)

	q, err := m.queueFor(at.Kind)
	if err != nil {
		return m.fail(order, err)
	}

	done := make(chan error, 1)
	q <- submission{op: "create", order: order, params: at, done: done}

	select {
	case err := <-done:
		if err != nil {
			return m.fail(order, err)
		}
	case <-ctx.Done():
		return order, ctx.Err()
	}

	current, _ := m.cache.GetOrder(order.OID)
	return current, nil
}

// CreateBatchOrders submits each entry independently, per spec §4.M
// ("create_batch_orders(list[...])"); partial failure is expected and
// reported per-entry rather than failing the whole batch.
func (m *Manager) CreateBatchOrders(ctx context.Context, entries []CreateOrderParams) []types.Order {
	out := make([]types.Order, 0, len(entries))
	for _, p := range entries {
		order, err := m.CreateOrder(ctx, p)
		if err != nil {
			m.logger.Warn("batch entry failed", "oid", p.OID, "error", err)
		}
		out = append(out, order)
	}
	return out
}

// ModifyOrder enqueues a modify_order intent for an existing order.
func (m *Manager) ModifyOrder(ctx context.Context, p ModifyOrderParams) error {
	order, ok := m.cache.GetOrder(p.OID)
	if !ok {
		return fmt.Errorf("ems: modify_order: unknown oid %q", p.OID)
	}
	market, ok := m.markets[order.Symbol]
	if !ok {
		return fmt.Errorf("ems: modify_order: unknown symbol %q", order.Symbol)
	}

	side := order.Side
	if p.Side != nil {
		side = *p.Side
	}
	if p.Price != nil {
		order.Price = market.QuantizePrice(*p.Price, side)
	}
	if p.Amount != nil {
		order.Amount = market.QuantizeAmount(*p.Amount, false)
	}
	order.Side = side

	at, err := m.accountType(market.Instrument(), nil)
	if err != nil {
		return err
	}
	q, err := m.queueFor(at.Kind)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	q <- submission{op: "modify", order: order, done: done}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelOrder enqueues a cancel_order intent.
func (m *Manager) CancelOrder(ctx context.Context, oid, symbol string) error {
	order, ok := m.cache.GetOrder(oid)
	if !ok {
		return fmt.Errorf("ems: cancel_order: unknown oid %q", oid)
	}
	market, ok := m.markets[symbol]
	if !ok {
		return fmt.Errorf("ems: cancel_order: unknown symbol %q", symbol)
	}
	at, err := m.accountType(market.Instrument(), nil)
	if err != nil {
		return err
	}
	q, err := m.queueFor(at.Kind)
	if err != nil {
		return err
	}

	order.Status = types.StatusCanceling
	m.cache.ApplyOrder(order)
	m.bus.Publish(types.OrderTopic(m.exchange), order)

	done := make(chan error, 1)
	q <- submission{op: "cancel", order: order, done: done}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAllOrders cancels every open order on symbol, or every open order
// on the exchange when symbol is empty.
func (m *Manager) CancelAllOrders(ctx context.Context, symbol string) error {
	var open []types.Order
	if symbol == "" {
		open = m.cache.OpenOrdersByExchange(m.exchange)
	} else {
		open = m.cache.OpenOrdersBySymbol(symbol)
	}
	if len(open) == 0 {
		return nil
	}

	market, ok := m.markets[open[0].Symbol]
	if !ok {
		return fmt.Errorf("ems: cancel_all_orders: unknown symbol %q", open[0].Symbol)
	}
	at, err := m.accountType(market.Instrument(), nil)
	if err != nil {
		return err
	}
	q, err := m.queueFor(at.Kind)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	q <- submission{op: "cancel_all", order: types.Order{Symbol: symbol}, done: done}
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, o := range open {
		o.Status = types.StatusCanceled
		m.cache.ApplyOrder(o)
		m.bus.Publish(types.OrderTopic(m.exchange), o)
		m.registry.Remove(&o)
	}
	return nil
}

// process runs inside the per-account-kind consumer goroutine, issuing the
// REST call and applying the resulting Order update.
func (m *Manager) process(ctx context.Context, kind types.AccountKind, sub submission) error {
	rest := m.rest[kind]
	switch sub.op {
	case "create":
		eid, err := m.submit.CreateOrder(ctx, rest, sub.order)
		if err != nil {
			return err
		}
		m.registry.Link(eid, sub.order.OID)
		accepted := sub.order
		accepted.EID = eid
		accepted.Status = types.StatusAccepted
		m.cache.ApplyOrder(accepted)
		m.bus.Publish(types.OrderTopic(m.exchange), accepted)
		return nil

	case "modify":
		eid, err := m.submit.ModifyOrder(ctx, rest, sub.order)
		updated := sub.order
		if err != nil {
			updated.Status = types.StatusReplaceFailed
		} else {
			if eid != "" {
				updated.EID = eid
			}
			updated.Status = types.StatusReplaced
		}
		m.cache.ApplyOrder(updated)
		m.bus.Publish(types.OrderTopic(m.exchange), updated)
		return err

	case "cancel":
		eid, _ := m.registry.GetEID(sub.order.OID)
		err := m.submit.CancelOrder(ctx, rest, sub.order.OID, eid, sub.order.Symbol)
		updated := sub.order
		if err != nil {
			updated.Status = types.StatusCancelFailed
			m.cache.ApplyOrder(updated)
			m.bus.Publish(types.OrderTopic(m.exchange), updated)
		}
		return err

	case "cancel_all":
		return m.submit.CancelAllOrders(ctx, rest, sub.order.Symbol)

	default:
		return fmt.Errorf("ems: unknown submission op %q", sub.op)
	}
}

// accountType resolves the account type for id: an explicit override wins,
// otherwise the configured AccountResolver decides (spec §4.M.4).
func (m *Manager) accountType(id types.InstrumentId, override *types.AccountType) (types.AccountType, error) {
	if override != nil {
		return *override, nil
	}
	if m.resolve == nil {
		return types.AccountType{}, fmt.Errorf("ems: no account resolver configured")
	}
	return m.resolve(id)
}

// failFast synthesises a local FAILED order without ever reaching the
// queue (spec §4.M step 3: "emit a FAILED order locally and do not
// submit").
func (m *Manager) failFast(oid, symbol string, side types.Side, typ types.OrderType, cause error) (types.Order, error) {
	reason := cause.Error()
	var oe *errs.OrderError
	if errors.As(cause, &oe) {
		reason = oe.Reason
	}
	order := types.Order{
		OID:          oid,
		Exchange:     m.exchange,
		Symbol:       symbol,
		Side:         side,
		Type:         typ,
		Status:       types.StatusFailed,
		TimestampMs:  m.clk.NowMs(),
		RejectReason: reason,
	}
	m.cache.ApplyOrder(order)
	m.bus.Publish(types.OrderTopic(m.exchange), order)
	return order, cause
}

func (m *Manager) fail(order types.Order, cause error) (types.Order, error) {
	order.Status = types.StatusFailed
	order.RejectReason = cause.Error()
	m.cache.ApplyOrder(order)
	m.bus.Publish(types.OrderTopic(m.exchange), order)
	m.registry.Remove(&order)
	return order, cause
}

// CreateTPSLOrder submits a take-profit/stop-loss leg through the normal
// create_order path; TP/SL is modeled as an order type
// (types.OrderTypeTakeProfit / types.OrderTypeStopLoss /
// types.OrderTypeStopLimit) rather than a distinct submission shape, since
// every venue plugin already quantizes and queues those types identically
// to a plain limit order.
func (m *Manager) CreateTPSLOrder(ctx context.Context, p CreateOrderParams) (types.Order, error) {
	return m.CreateOrder(ctx, p)
}

// computeTWAPSlices implements spec §4.M's TWAP algorithm exactly: n
// full-size slices of size unit, plus a remainder r merged into the final
// slice (non-reduce-only) or appended as its own sub-minimum tail
// (reduce-only).
func computeTWAPSlices(total, unit decimal.Decimal, reduceOnly bool) []decimal.Decimal {
	if unit.Sign() <= 0 || total.Sign() <= 0 {
		return nil
	}

	q, r := total.QuoRem(unit, 0)
	n := int(q.IntPart())

	if r.IsZero() {
		slices := make([]decimal.Decimal, n)
		for i := range slices {
			slices[i] = unit
		}
		return slices
	}

	if reduceOnly {
		slices := make([]decimal.Decimal, 0, n+1)
		for i := 0; i < n; i++ {
			slices = append(slices, unit)
		}
		return append(slices, r)
	}

	if n == 0 {
		return nil
	}
	slices := make([]decimal.Decimal, 0, n)
	for i := 0; i < n-1; i++ {
		slices = append(slices, unit)
	}
	return append(slices, unit.Add(r))
}

// interSliceDelay returns max(duration/k, wait), per spec §4.M.
func interSliceDelay(durationS, waitS float64, k int) time.Duration {
	if k == 0 {
		return 0
	}
	d := durationS / float64(k)
	if d < waitS {
		d = waitS
	}
	return time.Duration(d * float64(time.Second))
}

// CreateTWAP slices TotalAmount per computeTWAPSlices and schedules one
// market order per slice, spaced by interSliceDelay. It returns a handle
// that CancelTWAP accepts to stop any pending (not yet submitted) slices.
// A TWAP whose slicing yields zero slices publishes a single FAILED order
// with reason "below_minimum" and schedules nothing (spec S4).
func (m *Manager) CreateTWAP(ctx context.Context, p TWAPParams) (string, error) {
	market, ok := m.markets[p.Symbol]
	if !ok {
		return "", fmt.Errorf("ems: create_twap: unknown symbol %q", p.Symbol)
	}

	slices := computeTWAPSlices(p.TotalAmount, market.MinOrderAmount(), p.ReduceOnly)
	handle := fmt.Sprintf("twap-%s-%d", p.Symbol, m.clk.NowMs())

	if len(slices) == 0 {
		_, _ = m.failFast(handle, p.Symbol, p.Side, types.OrderTypeMarket, &errs.OrderError{OID: handle, Reason: "below_minimum"})
		return handle, nil
	}

	delay := interSliceDelay(p.DurationS, p.WaitS, len(slices))

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.twaps[handle] = cancel
	m.mu.Unlock()

	go m.runTWAP(runCtx, handle, p, slices, delay)

	return handle, nil
}

func (m *Manager) runTWAP(ctx context.Context, handle string, p TWAPParams, slices []decimal.Decimal, delay time.Duration) {
	defer func() {
		m.mu.Lock()
		delete(m.twaps, handle)
		m.mu.Unlock()
	}()

	for i, amount := range slices {
		if ctx.Err() != nil {
			return
		}
		_, err := m.CreateOrder(ctx, CreateOrderParams{
			OID:         fmt.Sprintf("%s-slice-%d", handle, i),
			Symbol:      p.Symbol,
			Side:        p.Side,
			Type:        types.OrderTypeMarket,
			Amount:      amount,
			ReduceOnly:  p.ReduceOnly,
			AccountType: p.AccountType,
		})
		if err != nil {
			m.logger.Warn("twap slice failed", "handle", handle, "slice", i, "error", err)
		}
		if i == len(slices)-1 {
			return
		}
		if err := m.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// CancelTWAP stops scheduling any further slices for handle; slices
// already submitted are not affected (spec §4.M: "cancellation of the
// TWAP cancels any pending slices but not already-submitted ones").
func (m *Manager) CancelTWAP(handle string) {
	m.mu.Lock()
	cancel, ok := m.twaps[handle]
	delete(m.twaps, handle)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
