// Package discovery answers one question: is a singleton coordinator
// already reachable on the well-known port? The probe is a plain GET to the
// health endpoint; any network error or non-2xx answer counts as "not
// alive". Retry and failover decisions belong to the callers.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const healthPath = "/health"

// Config holds discovery probe settings. All fields have usable zero-value
// substitutes applied by New.
type Config struct {
	Port            int
	ProbeTimeout    time.Duration // default 5s
	MonitorInterval time.Duration // default 10s
}

// Discovery probes the coordination port for a live server.
type Discovery struct {
	cfg    Config
	client *http.Client

	mu                  sync.Mutex
	consecutiveFailures int
	lastAlive           *bool // nil until the first probe completes
}

// New creates a Discovery for the configured coordination port.
func New(cfg Config) *Discovery {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	return &Discovery{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

// BaseURL returns the HTTP base URL of the singleton server.
func (d *Discovery) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", d.cfg.Port)
}

// SocketURL returns the websocket base URL of the singleton server.
func (d *Discovery) SocketURL() string {
	return fmt.Sprintf("ws://127.0.0.1:%d", d.cfg.Port)
}

// IsServerAlive probes the health endpoint once. It never returns an error:
// connection failures, timeouts, and non-2xx responses all mean "not
// alive". The consecutive failure count it maintains is diagnostic only.
func (d *Discovery) IsServerAlive(ctx context.Context) bool {
	alive := d.probe(ctx)

	d.mu.Lock()
	if alive {
		d.consecutiveFailures = 0
	} else {
		d.consecutiveFailures++
	}
	d.lastAlive = &alive
	d.mu.Unlock()

	return alive
}

func (d *Discovery) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL()+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused across probes.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ConsecutiveFailures returns the diagnostic failure counter.
func (d *Discovery) ConsecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures
}

// StartHealthMonitoring polls the health endpoint on the configured
// interval and invokes onTransition whenever the observed liveness changes
// (the first observation always counts as a transition). The monitoring is
// advisory: it drives no retries or failovers itself. The returned function
// stops the monitor.
func (d *Discovery) StartHealthMonitoring(ctx context.Context, onTransition func(alive bool)) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(d.cfg.MonitorInterval)
		defer ticker.Stop()

		d.observe(ctx, onTransition)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.observe(ctx, onTransition)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (d *Discovery) observe(ctx context.Context, onTransition func(alive bool)) {
	d.mu.Lock()
	prev := d.lastAlive
	d.mu.Unlock()

	alive := d.IsServerAlive(ctx)
	if prev == nil || *prev != alive {
		log.Debug().Bool("alive", alive).Str("url", d.BaseURL()).Msg("discovery transition")
		if onTransition != nil {
			onTransition(alive)
		}
	}
}
