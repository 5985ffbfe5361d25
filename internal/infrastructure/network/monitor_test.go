package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

func TestMonitorNotifiesOnTransitionOnly(t *testing.T) {
	m := NewMonitor(domain.NetworkOffline)

	var seen []domain.NetworkStatus
	m.Subscribe(func(s domain.NetworkStatus) { seen = append(seen, s) })

	m.SetStatus(domain.NetworkOffline) // no transition
	m.SetStatus(domain.NetworkOnline)
	m.SetStatus(domain.NetworkOnline) // no transition
	m.SetStatus(domain.NetworkOffline)

	assert.Equal(t, []domain.NetworkStatus{domain.NetworkOnline, domain.NetworkOffline}, seen)
	assert.Equal(t, domain.NetworkOffline, m.Status())
}

func TestMonitorUnsubscribeIdempotent(t *testing.T) {
	m := NewMonitor(domain.NetworkOffline)

	calls := 0
	unsubscribe := m.Subscribe(func(domain.NetworkStatus) { calls++ })

	m.SetStatus(domain.NetworkOnline)
	require.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	m.SetStatus(domain.NetworkOffline)
	assert.Equal(t, 1, calls)
}

func TestMonitorUnsubscribeFromWithinCallback(t *testing.T) {
	m := NewMonitor(domain.NetworkOffline)

	calls := 0
	var unsubscribe func()
	unsubscribe = m.Subscribe(func(domain.NetworkStatus) {
		calls++
		unsubscribe()
	})

	m.SetStatus(domain.NetworkOnline)
	m.SetStatus(domain.NetworkOffline)
	assert.Equal(t, 1, calls)
}

func TestMonitorMultipleSubscribers(t *testing.T) {
	m := NewMonitor(domain.NetworkOffline)

	a, b := 0, 0
	m.Subscribe(func(domain.NetworkStatus) { a++ })
	m.Subscribe(func(domain.NetworkStatus) { b++ })

	m.SetStatus(domain.NetworkOnline)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
