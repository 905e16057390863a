// Package health runs the debounced liveness state machine that decides
// when the observed server is genuinely down. Two thresholds guard the
// transitions so a single dropped probe never flaps the state: several
// consecutive failures are needed to go unhealthy, several consecutive
// successes to come back.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

type EventType string

const (
	EventFailoverTriggered EventType = "failover_triggered"
	EventRecoveryDetected  EventType = "recovery_detected"
)

// Event describes a state transition observed by the monitor.
type Event struct {
	Type                 EventType
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	At                   time.Time
}

// Status is the monitor's current view of the observed server.
type Status struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// Prober reports whether the observed server answered a liveness probe.
// discovery.Discovery satisfies this.
type Prober interface {
	IsServerAlive(ctx context.Context) bool
}

// Config holds monitor thresholds. Zero values get the production defaults.
type Config struct {
	CheckInterval     time.Duration // default 10s
	FailureThreshold  int           // default 3
	RecoveryThreshold int           // default 2
}

// Monitor polls a Prober and drives failover when failures persist past the
// threshold. Every process runs one: the server observes itself through the
// same probe, clients observe the server they depend on.
type Monitor struct {
	prober Prober
	cfg    Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	handlers  []func(Event)

	failoverMu sync.Mutex
	onFailover func(ctx context.Context)
	inFailover bool
}

// New creates a Monitor in the unknown state.
func New(prober Prober, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryThreshold < 1 {
		cfg.RecoveryThreshold = 2
	}
	return &Monitor{
		prober: prober,
		cfg:    cfg,
		state:  StateUnknown,
	}
}

// OnEvent registers an event handler. Handlers run synchronously in
// registration order on the monitor goroutine; a panicking handler is
// logged and skipped, it cannot suppress the others or kill the loop.
func (m *Monitor) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// SetFailoverFunc installs the launcher's failover entry point. It is
// invoked on its own goroutine when the failure threshold is crossed; at
// most one invocation runs at a time.
func (m *Monitor) SetFailoverFunc(fn func(ctx context.Context)) {
	m.failoverMu.Lock()
	defer m.failoverMu.Unlock()
	m.onFailover = fn
}

// Status returns the current debounced view.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:                m.state,
		ConsecutiveFailures:  m.failures,
		ConsecutiveSuccesses: m.successes,
	}
}

// Start runs the poll loop on a new goroutine. The returned function stops
// the loop and waits for it to exit.
func (m *Monitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()

		log.Debug().Dur("interval", m.cfg.CheckInterval).Msg("health monitor started")
		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				log.Debug().Msg("health monitor stopped")
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Check performs one poll step and applies the debounce rules. It is the
// unit the loop repeats and is safe to call directly in tests.
func (m *Monitor) Check(ctx context.Context) {
	alive := m.prober.IsServerAlive(ctx)

	var (
		events      []Event
		runFailover bool
	)

	m.mu.Lock()
	if alive {
		m.failures = 0
		m.successes++
		switch m.state {
		case StateUnknown:
			m.state = StateHealthy
		case StateUnhealthy:
			if m.successes >= m.cfg.RecoveryThreshold {
				m.state = StateHealthy
				events = append(events, Event{
					Type:                 EventRecoveryDetected,
					State:                m.state,
					ConsecutiveSuccesses: m.successes,
					At:                   time.Now(),
				})
			}
		}
	} else {
		m.successes = 0
		m.failures++
		if m.state != StateUnhealthy && m.failures >= m.cfg.FailureThreshold {
			m.state = StateUnhealthy
			events = append(events, Event{
				Type:                EventFailoverTriggered,
				State:               m.state,
				ConsecutiveFailures: m.failures,
				At:                  time.Now(),
			})
			runFailover = true
		}
	}
	handlers := append(([]func(Event))(nil), m.handlers...)
	m.mu.Unlock()

	for _, ev := range events {
		log.Info().Str("event", string(ev.Type)).Str("state", string(ev.State)).
			Int("failures", ev.ConsecutiveFailures).Msg("health transition")
		for _, h := range handlers {
			m.invoke(h, ev)
		}
	}

	if runFailover {
		m.triggerFailover(ctx)
	}
}

func (m *Monitor) invoke(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("health event handler panicked")
		}
	}()
	h(ev)
}

func (m *Monitor) triggerFailover(ctx context.Context) {
	m.failoverMu.Lock()
	fn := m.onFailover
	if fn == nil || m.inFailover {
		m.failoverMu.Unlock()
		return
	}
	m.inFailover = true
	m.failoverMu.Unlock()

	go func() {
		defer func() {
			m.failoverMu.Lock()
			m.inFailover = false
			m.failoverMu.Unlock()
		}()
		fn(ctx)
	}()
}
