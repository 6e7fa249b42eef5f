// Package registry bridges the gap between a strategy learning a local
// order id (immediately on submit) and a venue revealing its own order id
// (possibly later, via REST ack or an async WebSocket event), so that
// order-status events arriving before the REST response still resolve to
// the right local order.
package registry

import (
	"context"
	"sync"

	"github.com/gateway/cex-gateway/pkg/types"
)

// Registry holds the bidirectional oid<->eid mapping. At any point an order
// is either purely temp-registered (oid known, eid not yet) or fully linked
// (both directions present) — never one-sided in the linked state.
type Registry struct {
	mu sync.Mutex

	tmp  map[string]*types.Order // oid -> order, eid not yet known
	oid2 map[string]string       // oid -> eid, once linked
	eid2 map[string]string       // eid -> oid, once linked

	waiters map[string][]chan string // oid -> channels waiting on link
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		tmp:     make(map[string]*types.Order),
		oid2:    make(map[string]string),
		eid2:    make(map[string]string),
		waiters: make(map[string][]chan string),
	}
}

// RegisterTmpOrder records order under its oid before an eid is known.
func (r *Registry) RegisterTmpOrder(order *types.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tmp[order.OID] = order
}

// Link establishes the oid<->eid mapping, completes any pending WaitForEID
// calls for oid, and promotes the temp order into the linked state.
func (r *Registry) Link(eid, oid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.oid2[oid] = eid
	r.eid2[eid] = oid
	delete(r.tmp, oid)

	for _, ch := range r.waiters[oid] {
		ch <- eid
		close(ch)
	}
	delete(r.waiters, oid)
}

// GetEID returns the eid linked to oid, if any.
func (r *Registry) GetEID(oid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eid, ok := r.oid2[oid]
	return eid, ok
}

// GetOID returns the oid linked to eid, if any.
func (r *Registry) GetOID(eid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oid, ok := r.eid2[eid]
	return oid, ok
}

// TmpOrder returns the temp-registered order for oid, if it has not yet
// been linked.
func (r *Registry) TmpOrder(oid string) (*types.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.tmp[oid]
	return o, ok
}

// WaitForEID blocks until Link fires for oid, or ctx is cancelled. If oid is
// already linked, it returns immediately.
func (r *Registry) WaitForEID(ctx context.Context, oid string) (string, error) {
	r.mu.Lock()
	if eid, ok := r.oid2[oid]; ok {
		r.mu.Unlock()
		return eid, nil
	}
	ch := make(chan string, 1)
	r.waiters[oid] = append(r.waiters[oid], ch)
	r.mu.Unlock()

	select {
	case eid := <-ch:
		return eid, nil
	case <-ctx.Done():
		r.abandonWaiter(oid, ch)
		return "", ctx.Err()
	}
}

func (r *Registry) abandonWaiter(oid string, ch chan string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.waiters[oid]
	for i, h := range hs {
		if h == ch {
			r.waiters[oid] = append(hs[:i], hs[i+1:]...)
			return
		}
	}
}

// Remove drops every trace of order from the registry — called when an
// order reaches a terminal status and no longer needs oid/eid resolution.
func (r *Registry) Remove(order *types.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tmp, order.OID)
	if eid, ok := r.oid2[order.OID]; ok {
		delete(r.oid2, order.OID)
		delete(r.eid2, eid)
	} else if order.EID != "" {
		delete(r.eid2, order.EID)
	}
	delete(r.waiters, order.OID)
}
