// Package network implements the connectivity abstraction: a cached status
// with transition subscriptions, fed by OS signals, a heartbeat prober, or a
// manual "retry now" action.
package network

import (
	"sync"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

// Monitor caches the last known connectivity state. Status never performs a
// live probe; SetStatus is the single write path for all signal sources.
type Monitor struct {
	mu     sync.Mutex
	status domain.NetworkStatus
	subs   map[int]func(domain.NetworkStatus)
	nextID int
}

func NewMonitor(initial domain.NetworkStatus) *Monitor {
	return &Monitor{
		status: initial,
		subs:   make(map[int]func(domain.NetworkStatus)),
	}
}

func (m *Monitor) Status() domain.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetStatus records a new state and notifies subscribers on transitions.
// Callbacks run outside the mutex so they may unsubscribe themselves.
func (m *Monitor) SetStatus(status domain.NetworkStatus) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	callbacks := make([]func(domain.NetworkStatus), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(status)
	}
}

// Subscribe registers fn for every transition. The returned unsubscribe is
// idempotent and safe to call from within the callback.
func (m *Monitor) Subscribe(fn func(domain.NetworkStatus)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
