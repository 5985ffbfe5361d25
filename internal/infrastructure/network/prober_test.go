package network

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

func TestProberTracksServerHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(domain.NetworkOffline)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	NewProber(m, srv.URL+"/health", 20*time.Millisecond, logger).Start(ctx)

	require.Eventually(t, func() bool {
		return m.Status() == domain.NetworkOnline
	}, 2*time.Second, 5*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, func() bool {
		return m.Status() == domain.NetworkOffline
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProberUnreachableServerMeansOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // connection refused from here on

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(domain.NetworkOnline)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	NewProber(m, srv.URL+"/health", 20*time.Millisecond, logger).Start(ctx)

	require.Eventually(t, func() bool {
		return m.Status() == domain.NetworkOffline
	}, 2*time.Second, 5*time.Millisecond)
}
