package order

import (
	"sync"
	"time"
)

// Map is the per-shop registry of in-flight orders, keyed by ticket. Reads
// dominate; writes hold the lock only for insert and remove, and sweeps copy
// what they need out before doing any I/O.
type Map struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMap builds an empty order registry.
func NewMap() *Map {
	return &Map{orders: make(map[string]*Order)}
}

// Acquire returns the order for a ticket, creating it if absent, and takes a
// handler reference on it. The returned release must be called when the
// handler stops caring about the order; it is safe to call more than once.
func (m *Map) Acquire(ticket string) (*Order, func()) {
	m.mu.RLock()
	var o, ok = m.orders[ticket]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if o, ok = m.orders[ticket]; !ok {
			o = newOrder(ticket)
			m.orders[ticket] = o
		}
		m.mu.Unlock()
	}

	o.refs.Add(1)
	var once sync.Once
	return o, func() {
		once.Do(func() { o.refs.Add(-1) })
	}
}

// Get returns the order for a ticket without taking a reference.
func (m *Map) Get(ticket string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var o, ok = m.orders[ticket]
	return o, ok
}

// Len returns the number of resident orders.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Unfulfilled snapshots the tickets whose outcome slot is still empty.
func (m *Map) Unfulfilled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tickets []string
	for ticket, o := range m.orders {
		if !o.Fulfilled() {
			tickets = append(tickets, ticket)
		}
	}
	return tickets
}

// Fulfill writes the outcome slot of a resident order. Unknown tickets are
// ignored — another shop's client holds them — as are already-fulfilled
// orders. It reports whether the ticket was resident.
func (m *Map) Fulfill(ticket string, success bool) bool {
	var o, ok = m.Get(ticket)
	if !ok {
		return false
	}
	// A lost race with another fulfiller is not an error; the slot is
	// write-once and both parties agree on the table row.
	_ = o.FulfillAt(success, time.Now())
	return true
}

// PurgeStale removes every order fulfilled more than maxAge ago that no
// handler still holds, and returns how many were removed.
func (m *Map) PurgeStale(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for ticket, o := range m.orders {
		if o.stale(maxAge) {
			delete(m.orders, ticket)
			removed++
		}
	}
	return removed
}
