package discovery_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardpin/boardpin/internal/discovery"
)

// healthServer starts an HTTP server on an ephemeral localhost port whose
// /health handler is controlled by the returned function, and reports the
// port it bound.
func healthServer(t *testing.T, status func() int) int {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status())
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := httptest.NewUnstartedServer(mux)
	srv.Start()
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestDiscovery_IsServerAlive(t *testing.T) {
	t.Parallel()

	port := healthServer(t, func() int { return http.StatusOK })
	d := discovery.New(discovery.Config{Port: port, ProbeTimeout: time.Second})

	assert.True(t, d.IsServerAlive(context.Background()))
	assert.Equal(t, 0, d.ConsecutiveFailures())
}

func TestDiscovery_NotAliveOnNon2xx(t *testing.T) {
	t.Parallel()

	port := healthServer(t, func() int { return http.StatusServiceUnavailable })
	d := discovery.New(discovery.Config{Port: port, ProbeTimeout: time.Second})

	assert.False(t, d.IsServerAlive(context.Background()))
	assert.Equal(t, 1, d.ConsecutiveFailures())
}

func TestDiscovery_NotAliveOnConnectionFailure(t *testing.T) {
	t.Parallel()

	// Bind then immediately close a listener so the port is free.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	d := discovery.New(discovery.Config{Port: port, ProbeTimeout: time.Second})

	assert.False(t, d.IsServerAlive(context.Background()))
	assert.False(t, d.IsServerAlive(context.Background()))
	assert.Equal(t, 2, d.ConsecutiveFailures())
}

func TestDiscovery_FailureCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	code := http.StatusServiceUnavailable
	port := healthServer(t, func() int {
		mu.Lock()
		defer mu.Unlock()
		return code
	})

	d := discovery.New(discovery.Config{Port: port, ProbeTimeout: time.Second})

	assert.False(t, d.IsServerAlive(context.Background()))
	require.Equal(t, 1, d.ConsecutiveFailures())

	mu.Lock()
	code = http.StatusOK
	mu.Unlock()

	assert.True(t, d.IsServerAlive(context.Background()))
	assert.Equal(t, 0, d.ConsecutiveFailures())
}

func TestDiscovery_URLs(t *testing.T) {
	t.Parallel()

	d := discovery.New(discovery.Config{Port: 9042})
	assert.Equal(t, "http://127.0.0.1:9042", d.BaseURL())
	assert.Equal(t, "ws://127.0.0.1:9042", d.SocketURL())
}

func TestDiscovery_MonitorReportsTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	code := http.StatusOK
	port := healthServer(t, func() int {
		mu.Lock()
		defer mu.Unlock()
		return code
	})

	d := discovery.New(discovery.Config{
		Port:            port,
		ProbeTimeout:    time.Second,
		MonitorInterval: 20 * time.Millisecond,
	})

	transitions := make(chan bool, 16)
	stop := d.StartHealthMonitoring(context.Background(), func(alive bool) {
		transitions <- alive
	})
	defer stop()

	// First observation counts as a transition.
	select {
	case alive := <-transitions:
		assert.True(t, alive)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial transition observed")
	}

	mu.Lock()
	code = http.StatusInternalServerError
	mu.Unlock()

	select {
	case alive := <-transitions:
		assert.False(t, alive)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition to not-alive observed")
	}
}

func TestDiscovery_MonitorStopTerminates(t *testing.T) {
	t.Parallel()

	port := healthServer(t, func() int { return http.StatusOK })
	d := discovery.New(discovery.Config{
		Port:            port,
		ProbeTimeout:    time.Second,
		MonitorInterval: 10 * time.Millisecond,
	})

	stop := d.StartHealthMonitoring(context.Background(), nil)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not terminate the monitor")
	}
}

