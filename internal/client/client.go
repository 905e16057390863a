// Package client is the workspace side of the coordination socket: it keeps
// one connection to whichever process currently holds the server role,
// re-registers after every reconnect, and issues correlated queries through
// the query proxy. Reconnection uses a fixed interval rather than
// exponential backoff — the server is local and either up or mid-failover,
// so waiting longer buys nothing.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/api/ws"
	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/queryproxy"
)

// Handlers are the optional consumer callbacks. All run on the read loop
// goroutine and must not block.
type Handlers struct {
	OnCardUpdate   func(card *domain.Card)
	OnCardDelete   func(card *domain.Card)
	OnStatusChange func(status domain.ConnectionStatus)
}

// Config tunes the client.
type Config struct {
	// SocketURL is the server's websocket base, e.g. ws://127.0.0.1:9042.
	SocketURL string
	// Workspace is the identity registered on every (re)connect.
	Workspace domain.Workspace

	ReconnectInterval time.Duration // default 1s
	PingInterval      time.Duration // default 10s
	Query             queryproxy.CallerConfig

	Handlers Handlers
}

// Client maintains the workspace connection.
type Client struct {
	cfg    Config
	caller *queryproxy.Caller
	cache  *cardCache

	mu     sync.Mutex
	conn   *websocket.Conn
	status domain.ConnectionStatus
}

// New creates a disconnected Client. Run starts it.
func New(cfg Config) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		cache:  newCardCache(),
		status: domain.ConnectionStatusDisconnected,
	}
	c.caller = queryproxy.NewCaller(c.sendQuery, cfg.Query)
	return c
}

// Status returns the current connection status.
func (c *Client) Status() domain.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run connects and serves until ctx is cancelled, reconnecting on a fixed
// interval whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	serve := func() error {
		if err := c.connectAndServe(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("retryIn", c.cfg.ReconnectInterval).Msg("connection lost, reconnecting")
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		// Always an error: the retry policy is what loops us back.
		return errors.New("connection ended")
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.ReconnectInterval), ctx)
	err := backoff.Retry(serve, policy)
	c.setStatus(domain.ConnectionStatusDisconnected)
	return fmt.Errorf("client.Run: %w", err)
}

// Close sends the close handshake so the server treats the exit as an
// unregister rather than a crash.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "shutting down")
}

// Query issues a correlated query against a board and decodes the reply
// into out (which may be nil to discard it).
func (c *Client) Query(ctx context.Context, boardID string, name domain.QueryName, args, out any) error {
	raw, err := c.caller.Call(ctx, boardID, name, args)
	if err != nil {
		return fmt.Errorf("client.Query: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client.Query: decoding %s reply: %w", name, err)
	}
	return nil
}

// BoardCards returns the cards on a board, served from the cache when warm.
// The cache is dropped on every reconnect, because a failover may have lost
// state the old server held.
func (c *Client) BoardCards(ctx context.Context, boardID string) ([]*domain.Card, error) {
	if cards, ok := c.cache.get(boardID); ok {
		return cards, nil
	}

	var cards []*domain.Card
	if err := c.Query(ctx, boardID, domain.QueryGetBoardCards, nil, &cards); err != nil {
		return nil, err
	}
	c.cache.put(boardID, cards)
	return cards, nil
}

func (c *Client) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.SocketURL+"/ws/workspace", nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.writeEnvelope(ctx, ws.EventRegister, c.cfg.Workspace); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx)

	err = c.readLoop(ctx, conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.cache.clear()
	c.setStatus(domain.ConnectionStatusReconnecting)
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Msg("malformed server message")
			continue
		}

		switch env.Event {
		case ws.EventRegistered:
			var registered domain.Workspace
			if err := json.Unmarshal(env.Data, &registered); err == nil && registered.ReconnectCount > 0 {
				log.Info().Int("reconnectCount", registered.ReconnectCount).Msg("re-registered after reconnect")
			}
			c.setStatus(domain.ConnectionStatusConnected)

		case ws.EventQueryResult:
			var resp queryproxy.Response
			if err := json.Unmarshal(env.Data, &resp); err != nil {
				log.Debug().Err(err).Msg("malformed query result")
				continue
			}
			c.caller.HandleResponse(resp)

		case ws.EventCardUpdate:
			var card domain.Card
			if err := json.Unmarshal(env.Data, &card); err != nil {
				continue
			}
			c.cache.update(&card)
			if c.cfg.Handlers.OnCardUpdate != nil {
				c.cfg.Handlers.OnCardUpdate(&card)
			}

		case ws.EventCardDelete:
			var card domain.Card
			if err := json.Unmarshal(env.Data, &card); err != nil {
				continue
			}
			c.cache.remove(&card)
			if c.cfg.Handlers.OnCardDelete != nil {
				c.cfg.Handlers.OnCardDelete(&card)
			}

		default:
			// Unknown events are part of the protocol's growth path.
			log.Debug().Str("event", env.Event).Msg("ignoring server event")
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeEnvelope(ctx, ws.EventPing, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendQuery(ctx context.Context, req queryproxy.Request) error {
	return c.writeEnvelope(ctx, ws.EventQuery, req)
}

// writeEnvelope serializes writes so the ping loop and query callers never
// interleave frames.
func (c *Client) writeEnvelope(ctx context.Context, event string, data any) error {
	payload, err := ws.Marshal(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("write %s: not connected", event)
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (c *Client) setStatus(status domain.ConnectionStatus) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()

	if changed && c.cfg.Handlers.OnStatusChange != nil {
		c.cfg.Handlers.OnStatusChange(status)
	}
}
