package network

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Corely-AI/pos-outbox-go/internal/domain"
)

const probeTimeout = 800 * time.Millisecond

// Prober feeds the monitor from a periodic heartbeat against the server
// health endpoint, for hosts without an OS-level connectivity signal.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

func NewProber(monitor *Monitor, url string, interval time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		logger:   logger.With("component", "network-prober"),
	}
}

// Start probes until ctx is cancelled. The first probe runs immediately so
// startup does not wait a full interval for the real state.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		p.probe(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "prober stopped")
				return
			case <-ticker.C:
				p.probe(ctx)
			}
		}
	}()
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.WarnContext(ctx, "bad probe url", "url", p.url, "error", err)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.monitor.SetStatus(domain.NetworkOffline)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		p.monitor.SetStatus(domain.NetworkOffline)
		return
	}
	p.monitor.SetStatus(domain.NetworkOnline)
}
