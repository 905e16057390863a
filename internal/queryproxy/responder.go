package queryproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/domain"
)

// Handler executes one named query. Handlers may block on their own I/O;
// the dispatcher runs each on the inbound message's goroutine.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// ReplyFunc transmits a response back toward the caller. It is supplied per
// dispatch because on a multiplexed transport the reply route depends on
// which connection the request arrived on.
type ReplyFunc func(ctx context.Context, resp Response) error

// Responder answers queries for exactly one board. Requests scoped to any
// other board are ignored outright — on a broadcast channel shared by
// several responders, answering (even with an error) would produce
// duplicate or cross-board replies.
type Responder struct {
	boardID string

	mu       sync.RWMutex
	handlers map[domain.QueryName]Handler
}

// NewResponder creates a Responder for boardID.
func NewResponder(boardID string) *Responder {
	return &Responder{
		boardID:  boardID,
		handlers: make(map[domain.QueryName]Handler),
	}
}

// BoardID returns the board this responder represents.
func (r *Responder) BoardID() string {
	return r.boardID
}

// Handle registers the handler for a named query, replacing any previous
// registration.
func (r *Responder) Handle(name domain.QueryName, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch routes one inbound request. Every accepted request produces
// exactly one reply; handler errors and panics become error replies rather
// than crashing the responder. The returned error reports only transport
// failures while replying.
func (r *Responder) Dispatch(ctx context.Context, req Request, reply ReplyFunc) error {
	if req.BoardID != r.boardID {
		return nil
	}

	resp := r.execute(ctx, req)
	if err := reply(ctx, resp); err != nil {
		return fmt.Errorf("queryproxy.Responder.Dispatch: reply to %s: %w", req.RequestID, err)
	}
	return nil
}

func (r *Responder) execute(ctx context.Context, req Request) (resp Response) {
	resp = Response{RequestID: req.RequestID}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("query", string(req.Query)).
				Msg("query handler panicked")
			resp.Response = nil
			resp.Error = fmt.Sprintf("handler for %q panicked", req.Query)
		}
	}()

	if !req.Query.Known() {
		resp.Error = fmt.Sprintf("%v: %q", domain.ErrUnknownQuery, req.Query)
		return resp
	}

	r.mu.RLock()
	h, ok := r.handlers[req.Query]
	r.mu.RUnlock()
	if !ok {
		resp.Error = fmt.Sprintf("no handler registered for %q", req.Query)
		return resp
	}

	out, err := h(ctx, req.Args)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		resp.Error = fmt.Sprintf("encoding %q response: %v", req.Query, err)
		return resp
	}
	resp.Response = encoded
	return resp
}
