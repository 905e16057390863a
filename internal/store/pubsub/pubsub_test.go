package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardpin/boardpin/internal/store/pubsub"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()

	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPubSub_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	ps := pubsub.New()
	defer ps.Close()

	ctx := context.Background()
	a, cleanupA, err := ps.Subscribe(ctx, "board:b1")
	require.NoError(t, err)
	defer cleanupA()
	b, cleanupB, err := ps.Subscribe(ctx, "board:b1")
	require.NoError(t, err)
	defer cleanupB()

	require.NoError(t, ps.Publish(ctx, "board:b1", []byte("hello")))

	assert.Equal(t, []byte("hello"), recv(t, a))
	assert.Equal(t, []byte("hello"), recv(t, b))
}

func TestPubSub_ChannelIsolation(t *testing.T) {
	t.Parallel()

	ps := pubsub.New()
	defer ps.Close()

	ctx := context.Background()
	other, cleanup, err := ps.Subscribe(ctx, "board:b2")
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, ps.Publish(ctx, "board:b1", []byte("hello")))

	select {
	case msg := <-other:
		t.Fatalf("unexpected cross-channel delivery: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSub_CleanupStopsDelivery(t *testing.T) {
	t.Parallel()

	ps := pubsub.New()
	defer ps.Close()

	ctx := context.Background()
	ch, cleanup, err := ps.Subscribe(ctx, "panel")
	require.NoError(t, err)

	cleanup()
	// Channel is closed after cleanup.
	_, ok := <-ch
	assert.False(t, ok)

	// Publishing afterwards is a no-op, not a panic.
	require.NoError(t, ps.Publish(ctx, "panel", []byte("late")))

	// Double cleanup is safe.
	cleanup()
}

func TestPubSub_ContextCancellationCleansUp(t *testing.T) {
	t.Parallel()

	ps := pubsub.New()
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := ps.Subscribe(ctx, "panel")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestPubSub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	ps := pubsub.New()
	defer ps.Close()

	ctx := context.Background()
	_, cleanup, err := ps.Subscribe(ctx, "panel")
	require.NoError(t, err)
	defer cleanup()

	// Never read; fill far past the buffer. Publish must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = ps.Publish(ctx, "panel", []byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPubSub_CloseClosesSubscribers(t *testing.T) {
	t.Parallel()

	ps := pubsub.New()

	ch, cleanup, err := ps.Subscribe(context.Background(), "panel")
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, ps.Close())
	_, ok := <-ch
	assert.False(t, ok)

	// Close is idempotent; publish after close is a no-op.
	require.NoError(t, ps.Close())
	require.NoError(t, ps.Publish(context.Background(), "panel", []byte("late")))
}

func TestPubSub_ChannelNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "board:b1", pubsub.BoardChannel("b1"))
	assert.Equal(t, "workspace:ws-1", pubsub.WorkspaceChannel("ws-1"))
}
