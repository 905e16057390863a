package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardpin/boardpin/internal/config"
	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/server"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

func testConfig() *config.Config {
	return &config.Config{
		Coordination: config.CoordinationConfig{Port: config.DefaultPort},
		Health:       testHealthConfig(),
		Server: config.ServerConfig{
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			CORSOrigins:       []string{"*"},
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	st := store.New()
	bus := pubsub.New()
	t.Cleanup(func() { _ = bus.Close() })

	srv := server.New(testConfig(), st, bus)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestAPIBoardsRoute(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t)
	st.AddBoard("b1", "payments")

	code, body := get(t, ts.URL+"/api/v1/boards")
	require.Equal(t, http.StatusOK, code)

	var boards []domain.Board
	require.NoError(t, json.Unmarshal(body, &boards))
	require.Len(t, boards, 1)
	assert.Equal(t, "payments", boards[0].Name)
}

func TestAPIStatusRoute(t *testing.T) {
	t.Parallel()

	ts, st := newTestServer(t)
	_, err := st.RegisterWorkspace(&domain.Workspace{ID: "ws-1", RootPath: "/p"})
	require.NoError(t, err)

	code, body := get(t, ts.URL+"/api/v1/status")
	require.Equal(t, http.StatusOK, code)

	var snap domain.StatusSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Len(t, snap.ConnectedWorkspaces, 1)
}

func TestServeOnLauncherBoundListener(t *testing.T) {
	t.Parallel()

	st := store.New()
	bus := pubsub.New()
	t.Cleanup(func() { _ = bus.Close() })

	srv := server.New(testConfig(), st, bus)

	// An already-bound listener, exactly what the launcher hands over.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(context.Background(), ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, <-serveDone)
}
