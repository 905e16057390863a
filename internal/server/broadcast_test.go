package server_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardpin/boardpin/internal/api/ws"
	"github.com/boardpin/boardpin/internal/config"
	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/server"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		ProbeTimeout:      time.Second,
		CheckInterval:     20 * time.Millisecond,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}
}

func symbolCard(boardID, link string) *domain.Card {
	return &domain.Card{
		BoardID: boardID,
		Type:    domain.CardTypeSymbol,
		Title:   "runner",
		Path:    "pkg/runner.go",
		Link:    link,
		Symbol:  "Runner.Start",
		Status:  domain.CardStatusConnected,
	}
}

func decode(t *testing.T, payload []byte) ws.Envelope {
	t.Helper()

	var env ws.Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestBroadcaster_CardMutationsReachBoardChannel(t *testing.T) {
	t.Parallel()

	st := store.New()
	bus := pubsub.New()
	defer bus.Close()

	b := server.NewBroadcaster(st, bus, testHealthConfig())
	b.Start(context.Background())
	defer b.Stop()

	msgs, cleanup, err := bus.Subscribe(context.Background(), pubsub.BoardChannel("b1"))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, st.SetCard(symbolCard("b1", "link-1")))
	env := decode(t, <-msgs)
	assert.Equal(t, ws.EventCardUpdate, env.Event)

	require.NoError(t, st.DeleteCard("link-1"))
	env = decode(t, <-msgs)
	assert.Equal(t, ws.EventCardDelete, env.Event)
}

func TestBroadcaster_MembershipChangePublishesSnapshot(t *testing.T) {
	t.Parallel()

	st := store.New()
	bus := pubsub.New()
	defer bus.Close()

	b := server.NewBroadcaster(st, bus, testHealthConfig())
	b.Start(context.Background())
	defer b.Stop()

	panel, cleanup, err := bus.Subscribe(context.Background(), pubsub.PanelChannel)
	require.NoError(t, err)
	defer cleanup()

	// First card on a board changes the connected-board set.
	require.NoError(t, st.SetCard(symbolCard("b1", "link-1")))

	env := decode(t, <-panel)
	require.Equal(t, ws.EventStatusSnapshot, env.Event)

	var snap domain.StatusSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.AllBoards, 1)
	assert.Equal(t, 1, snap.AllBoards[0].CardCount)
}

func TestBroadcaster_SweepMarksSilentWorkspacesStale(t *testing.T) {
	t.Parallel()

	st := store.New()
	bus := pubsub.New()
	defer bus.Close()

	_, err := st.RegisterWorkspace(&domain.Workspace{ID: "ws-1", RootPath: "/p"})
	require.NoError(t, err)

	b := server.NewBroadcaster(st, bus, testHealthConfig())
	b.Start(context.Background())
	defer b.Stop()

	// staleAfter = 3 * 20ms; without pings the workspace must go stale.
	require.Eventually(t, func() bool {
		workspaces := st.Workspaces()
		return len(workspaces) == 1 && workspaces[0].ConnectionStatus == domain.ConnectionStatusStale
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	st := store.New()
	bus := pubsub.New()
	defer bus.Close()

	b := server.NewBroadcaster(st, bus, testHealthConfig())
	b.Start(context.Background())
	b.Stop()
	b.Stop()

	// After Stop, mutations no longer broadcast.
	msgs, cleanup, err := bus.Subscribe(context.Background(), pubsub.BoardChannel("b1"))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, st.SetCard(symbolCard("b1", "link-1")))
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected broadcast after Stop: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
