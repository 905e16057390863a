package commands

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boardpin/boardpin/internal/client"
	"github.com/boardpin/boardpin/internal/config"
	"github.com/boardpin/boardpin/internal/discovery"
	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/health"
	"github.com/boardpin/boardpin/internal/launcher"
	"github.com/boardpin/boardpin/internal/queryproxy"
	"github.com/boardpin/boardpin/internal/server"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

var (
	runWorkspaceID string
	runBoardIDs    []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a worker process",
	Long: `Run one boardpin worker for this workspace.

The process probes the coordination port first. If a coordinator is
already up it joins as a client; otherwise it races for the port bind
and, on winning, hosts the coordinator itself. Either way it registers
this workspace and keeps it registered across coordinator failovers.

Examples:
  # Run a worker for the current directory, watching one board
  boardpin run --board b1

  # Explicit workspace identity
  boardpin run --workspace-id ci-runner-3 --board b1 --board b2`,
	RunE: runWorker,
}

func init() {
	runCmd.Flags().StringVar(&runWorkspaceID, "workspace-id", "", "Workspace identity (defaults to host-pid)")
	runCmd.Flags().StringArrayVar(&runBoardIDs, "board", nil, "Board ID this workspace watches (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := store.New()
	bus := pubsub.New()
	defer bus.Close()

	disc := discovery.New(discovery.Config{
		Port:            cfg.Coordination.Port,
		ProbeTimeout:    cfg.Health.ProbeTimeout,
		MonitorInterval: cfg.Health.CheckInterval,
	})

	factory := func(serveCtx context.Context, ln net.Listener) (func(context.Context) error, error) {
		srv := server.New(cfg, st, bus)
		go func() {
			if serveErr := srv.Serve(serveCtx, ln); serveErr != nil {
				log.Error().Err(serveErr).Msg("server error")
			}
		}()
		return srv.Shutdown, nil
	}

	l := launcher.New(disc, factory, launcher.Config{
		Port:            cfg.Coordination.Port,
		SettleDelay:     cfg.Coordination.SettleDelay,
		ProbeRetries:    cfg.Coordination.ProbeRetries,
		ProbeRetryDelay: cfg.Coordination.ProbeRetryDelay,
	})

	res, err := l.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if shutdownErr := l.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("shutdown error")
		}
	}()
	log.Info().Str("mode", string(res.Mode)).Str("serverUrl", res.ServerURL).Msg("launched")

	// Every worker is an editor workspace, the coordinator included: its
	// own registration goes through the same socket as everyone else's.
	cl := client.New(client.Config{
		SocketURL:         res.SocketURL,
		Workspace:         workspaceIdentity(),
		ReconnectInterval: cfg.Reconnect.Interval,
		Query: queryproxy.CallerConfig{
			Timeout:    cfg.Query.Timeout,
			MaxRetries: cfg.Query.MaxRetries,
			RetryDelay: cfg.Query.RetryDelay,
		},
	})
	go func() {
		if runErr := cl.Run(ctx); ctx.Err() == nil {
			log.Error().Err(runErr).Msg("workspace client stopped")
		}
	}()
	defer func() {
		if closeErr := cl.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("client close")
		}
	}()

	// The health monitor drives failover; the client's reconnect loop then
	// finds whichever process won the re-election.
	mon := health.New(disc, health.Config{
		CheckInterval:     cfg.Health.CheckInterval,
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoveryThreshold: cfg.Health.RecoveryThreshold,
	})
	mon.SetFailoverFunc(func(foCtx context.Context) {
		foRes, foErr := l.HandleServerFailover(foCtx)
		if foErr != nil {
			log.Error().Err(foErr).Msg("failover election failed")
			return
		}
		log.Info().Str("mode", string(foRes.Mode)).Msg("failover election complete")
	})
	stopMonitor := mon.Start(ctx)
	defer stopMonitor()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// workspaceIdentity builds this process' workspace registration.
func workspaceIdentity() domain.Workspace {
	id := runWorkspaceID
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		id = host + "-" + strconv.Itoa(os.Getpid())
	}
	root, err := os.Getwd()
	if err != nil {
		root = ""
	}
	return domain.Workspace{
		ID:       id,
		RootPath: root,
		BoardIDs: runBoardIDs,
	}
}
