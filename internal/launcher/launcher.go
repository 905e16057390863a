// Package launcher elects the singleton server among any number of
// equivalent worker processes. The election primitive is the operating
// system's exclusive TCP bind on the well-known coordination port: whoever
// holds the bind is the server, and losing the bind race is an expected
// outcome, not an error. No lease or heartbeat token exists — a dead
// server's port simply becomes bindable again, and the next failover race
// picks exactly one winner.
package launcher

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/domain"
)

type Mode string

const (
	ModeProbing Mode = "probing"
	ModeServer  Mode = "server"
	ModeClient  Mode = "client"
)

// Discoverer probes for a live server and formats its addresses.
// discovery.Discovery satisfies this.
type Discoverer interface {
	IsServerAlive(ctx context.Context) bool
	BaseURL() string
	SocketURL() string
}

// ServerFactory builds and starts the store-backed server on a listener the
// launcher already bound. The returned stop function shuts the server down.
type ServerFactory func(ctx context.Context, ln net.Listener) (stop func(context.Context) error, err error)

// Config holds the election timing knobs.
type Config struct {
	Port int
	// SettleDelay is the wait after losing the bind race, giving the
	// winner time to start answering health probes.
	SettleDelay     time.Duration // default 1s
	ProbeRetries    int           // default 3
	ProbeRetryDelay time.Duration // default 500ms
}

// Result reports the outcome of a launch.
type Result struct {
	Mode      Mode
	ServerURL string
	SocketURL string
}

// Launcher runs the probing → {server | client} state machine for one
// worker process.
type Launcher struct {
	disc    Discoverer
	factory ServerFactory
	cfg     Config

	mu         sync.Mutex
	mode       Mode
	stopServer func(context.Context) error
}

// New creates a Launcher in the probing state.
func New(disc Discoverer, factory ServerFactory, cfg Config) *Launcher {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	if cfg.ProbeRetries < 1 {
		cfg.ProbeRetries = 3
	}
	if cfg.ProbeRetryDelay <= 0 {
		cfg.ProbeRetryDelay = 500 * time.Millisecond
	}
	return &Launcher{
		disc:    disc,
		factory: factory,
		cfg:     cfg,
		mode:    ModeProbing,
	}
}

// Mode returns the current launch state.
func (l *Launcher) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Launch decides this process' role. If a server is already reachable the
// process becomes a client; otherwise it races for the port bind, becoming
// the server on success or settling into client mode after the winner comes
// up. Only the pathological case — nobody reachable even after the settle
// delay and bounded re-probes — is surfaced as an error.
func (l *Launcher) Launch(ctx context.Context) (Result, error) {
	l.setMode(ModeProbing)

	if l.disc.IsServerAlive(ctx) {
		log.Info().Str("serverUrl", l.disc.BaseURL()).Msg("server already running, joining as client")
		return l.becomeClient(), nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", l.cfg.Port))
	if err != nil {
		// Another process won the race between our probe and our bind.
		log.Info().Int("port", l.cfg.Port).Err(err).Msg("lost bind race, waiting for winner")
		return l.settleAsClient(ctx)
	}

	stop, err := l.factory(ctx, ln)
	if err != nil {
		_ = ln.Close()
		return Result{}, fmt.Errorf("launcher.Launch: starting server: %w", err)
	}

	l.mu.Lock()
	l.mode = ModeServer
	l.stopServer = stop
	l.mu.Unlock()

	log.Info().Int("port", l.cfg.Port).Msg("won bind race, acting as server")
	return Result{
		Mode:      ModeServer,
		ServerURL: l.disc.BaseURL(),
		SocketURL: l.disc.SocketURL(),
	}, nil
}

// settleAsClient waits out the winner's startup and re-probes a bounded
// number of times. A fixed sleep is deliberate: the handful of cooperating
// local processes does not justify event-driven waiting.
func (l *Launcher) settleAsClient(ctx context.Context) (Result, error) {
	if err := sleepCtx(ctx, l.cfg.SettleDelay); err != nil {
		return Result{}, fmt.Errorf("launcher.Launch: %w", err)
	}

	for attempt := 0; attempt < l.cfg.ProbeRetries; attempt++ {
		if l.disc.IsServerAlive(ctx) {
			return l.becomeClient(), nil
		}
		if err := sleepCtx(ctx, l.cfg.ProbeRetryDelay); err != nil {
			return Result{}, fmt.Errorf("launcher.Launch: %w", err)
		}
	}

	// The process that grabbed the port died before becoming healthy.
	return Result{}, fmt.Errorf("launcher.Launch: port %d taken but no healthy server after %d probes: %w",
		l.cfg.Port, l.cfg.ProbeRetries, domain.ErrLaunchFailed)
}

func (l *Launcher) becomeClient() Result {
	l.setMode(ModeClient)
	return Result{
		Mode:      ModeClient,
		ServerURL: l.disc.BaseURL(),
		SocketURL: l.disc.SocketURL(),
	}
}

// HandleServerFailover re-runs the election after the health monitor
// declares the server dead. The dead server's port is free again, so
// exactly one surviving process wins the re-bind; the rest re-settle as
// clients of the winner. A process already holding the server role keeps
// it — its own bind is the liveness it would be probing.
func (l *Launcher) HandleServerFailover(ctx context.Context) (Result, error) {
	l.mu.Lock()
	if l.mode == ModeServer {
		l.mu.Unlock()
		return Result{
			Mode:      ModeServer,
			ServerURL: l.disc.BaseURL(),
			SocketURL: l.disc.SocketURL(),
		}, nil
	}
	l.mu.Unlock()

	log.Info().Msg("server unreachable, re-running election")
	return l.Launch(ctx)
}

// Shutdown stops the server if this process holds the role.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	stop := l.stopServer
	l.stopServer = nil
	l.mode = ModeProbing
	l.mu.Unlock()

	if stop == nil {
		return nil
	}
	if err := stop(ctx); err != nil {
		return fmt.Errorf("launcher.Shutdown: %w", err)
	}
	return nil
}

func (l *Launcher) setMode(m Mode) {
	l.mu.Lock()
	l.mode = m
	l.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
