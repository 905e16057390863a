package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/api/ws"
	"github.com/boardpin/boardpin/internal/config"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

// Broadcaster turns committed store changes into socket traffic. Card and
// board mutations fan out on the board channel; membership changes replace
// incremental panel updates with a full snapshot, which is also what lets
// slow panel subscribers drop messages safely.
type Broadcaster struct {
	store *store.Store
	bus   *pubsub.PubSub

	// staleAfter is how long a workspace may go without a health ping
	// before the sweep marks it stale.
	staleAfter    time.Duration
	sweepInterval time.Duration

	mu          sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewBroadcaster creates a stopped Broadcaster. Stale timing derives from
// the health config: a workspace is stale once it has missed as many check
// intervals as the failure threshold allows.
func NewBroadcaster(st *store.Store, bus *pubsub.PubSub, health config.HealthConfig) *Broadcaster {
	staleAfter := health.CheckInterval * time.Duration(health.FailureThreshold)
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	sweepInterval := health.CheckInterval
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	return &Broadcaster{
		store:         st,
		bus:           bus,
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
	}
}

// Start subscribes to store events and begins the stale-workspace sweep.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsubscribe != nil {
		return
	}
	b.unsubscribe = b.store.Subscribe(b.onEvent)

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.sweep(ctx, b.done)
}

// Stop unsubscribes and halts the sweep.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	unsubscribe, cancel, done := b.unsubscribe, b.cancel, b.done
	b.unsubscribe, b.cancel, b.done = nil, nil, nil
	b.mu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()
	cancel()
	<-done
}

// onEvent runs synchronously on the mutating goroutine, after the change has
// committed and the store's lock has been released.
func (b *Broadcaster) onEvent(ev store.Event) {
	ctx := context.Background()

	switch ev.Type {
	case store.EventBoardUpdate:
		switch {
		case ev.Card != nil:
			event := ws.EventCardUpdate
			if ev.Deleted {
				event = ws.EventCardDelete
			}
			b.publish(ctx, pubsub.BoardChannel(ev.BoardID), event, ev.Card)
		case ev.Board != nil:
			b.publish(ctx, pubsub.BoardChannel(ev.BoardID), ws.EventBoardUpdate, ev.Board)
		}

	case store.EventConnectedBoards:
		b.publishSnapshot(ctx)

	case store.EventWorkspaceUpdate:
		if ev.Workspace != nil {
			b.publish(ctx, pubsub.WorkspaceChannel(ev.Workspace.ID), ws.EventWorkspaceStatus, ev.Workspace)
		}
		b.publishSnapshot(ctx)
	}
}

func (b *Broadcaster) publish(ctx context.Context, channel, event string, data any) {
	payload, err := ws.Marshal(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return
	}
	_ = b.bus.Publish(ctx, channel, payload)
}

func (b *Broadcaster) publishSnapshot(ctx context.Context) {
	b.publish(ctx, pubsub.PanelChannel, ws.EventStatusSnapshot, b.store.Snapshot())
}

// sweep periodically ages out workspaces that stopped pinging. The store
// emits workspaceUpdate events for each transition, so the snapshot publish
// comes for free through onEvent.
func (b *Broadcaster) sweep(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := b.store.MarkStaleWorkspaces(b.staleAfter); len(ids) > 0 {
				log.Warn().Strs("workspaceIds", ids).Msg("workspaces went stale")
			}
		}
	}
}
