// Package pubsub is a small in-process channel-fanout message bus. The
// coordinator is by construction a single process (the port bind guarantees
// it), so cross-connection fanout never needs an external broker: every
// websocket serving goroutine subscribes here and the API/query handlers
// publish here.
package pubsub

import (
	"context"
	"sync"
)

// PubSub fans published payloads out to every subscriber of a channel.
// Slow subscribers drop messages rather than block publishers; clients are
// expected to refresh from the next full snapshot broadcast.
type PubSub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan []byte
	nextID int
	closed bool
}

// New creates an empty bus.
func New() *PubSub {
	return &PubSub{subs: make(map[string]map[int]chan []byte)}
}

// Close tears down all subscriptions. Subsequent publishes are no-ops.
func (ps *PubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, chans := range ps.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	ps.subs = make(map[string]map[int]chan []byte)
	return nil
}

// Publish delivers payload to every current subscriber of channel.
func (ps *PubSub) Publish(_ context.Context, channel string, payload []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil
	}
	for _, ch := range ps.subs[channel] {
		select {
		case ch <- payload:
		default:
			// Subscriber buffer full; drop. State converges on the next
			// snapshot broadcast.
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to the named channel and
// a cleanup function. The channel is closed on cleanup, bus close, or
// context cancellation.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps.mu.Lock()
	ps.nextID++
	id := ps.nextID
	ch := make(chan []byte, 64)
	if ps.subs[channel] == nil {
		ps.subs[channel] = make(map[int]chan []byte)
	}
	ps.subs[channel][id] = ch
	ps.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			ps.mu.Lock()
			defer ps.mu.Unlock()
			if chans, ok := ps.subs[channel]; ok {
				if _, live := chans[id]; live {
					delete(chans, id)
					close(ch)
					if len(chans) == 0 {
						delete(ps.subs, channel)
					}
				}
			}
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cleanup()
		}()
	}

	return ch, cleanup, nil
}

// BoardChannel returns the bus channel name for a board's card traffic.
func BoardChannel(boardID string) string {
	return "board:" + boardID
}

// WorkspaceChannel returns the bus channel name for an editor workspace.
func WorkspaceChannel(workspaceID string) string {
	return "workspace:" + workspaceID
}

// PanelChannel is the bus channel for UI-panel status traffic.
const PanelChannel = "panel"
