package queryproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/domain"
)

// SendFunc transmits a request over the underlying one-way transport.
type SendFunc func(ctx context.Context, req Request) error

// CallerConfig tunes query calls. Fields are named rather than positional
// so socket reconnects, query retries, and health polling can be tuned
// independently.
type CallerConfig struct {
	Timeout    time.Duration // per-attempt deadline, default 10s
	MaxRetries int           // additional attempts after the first, default 2
	RetryDelay time.Duration // fixed delay between attempts, default 1s
}

// Caller issues correlated queries. Responses may arrive in any order and
// are matched purely by request id; a response nobody is waiting for is
// dropped without comment.
type Caller struct {
	send SendFunc
	cfg  CallerConfig

	mu      sync.Mutex
	pending map[string]chan Response
}

// NewCaller creates a Caller that transmits via send.
func NewCaller(send SendFunc, cfg CallerConfig) *Caller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Caller{
		send:    send,
		cfg:     cfg,
		pending: make(map[string]chan Response),
	}
}

// Call issues a query against boardID and waits for the correlated reply.
// Each attempt uses a fresh request id; a timed-out attempt's entry is
// removed before the next attempt, so a late reply to it is dropped as
// unmatched rather than resolving the wrong call.
func (c *Caller) Call(ctx context.Context, boardID string, query domain.QueryName, args any) (json.RawMessage, error) {
	var rawArgs json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("queryproxy.Caller.Call: marshal args: %w", err)
		}
		rawArgs = encoded
	}

	var result json.RawMessage
	attempt := func() error {
		reply, err := c.attempt(ctx, boardID, query, rawArgs)
		if err != nil {
			// Context cancellation ends the whole call, not just the attempt.
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		result = reply
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, fmt.Errorf("queryproxy.Caller.Call: %s on board %s: %w", query, boardID, err)
	}
	return result, nil
}

func (c *Caller) attempt(ctx context.Context, boardID string, query domain.QueryName, args json.RawMessage) (json.RawMessage, error) {
	requestID := uuid.NewString()
	ch := make(chan Response, 1)

	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	req := Request{
		RequestID: requestID,
		BoardID:   boardID,
		Query:     query,
		Args:      args,
	}
	if err := c.send(ctx, req); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			// A responder-side error is final; retrying would re-run a
			// handler that already answered deterministically.
			return nil, backoff.Permanent(fmt.Errorf("remote: %s", resp.Error))
		}
		return resp.Response, nil
	case <-timer.C:
		return nil, domain.ErrQueryTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleResponse routes an inbound reply to its pending call. Replies with
// no pending entry (typically arriving after the attempt timed out) are
// silently dropped.
func (c *Caller) HandleResponse(resp Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("requestId", resp.RequestID).Msg("dropping unmatched query response")
		return
	}
	ch <- resp
}

// PendingCount reports the number of in-flight calls.
func (c *Caller) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
