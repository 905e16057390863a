// Package ws serves the three socket channels of the coordinator: board
// clients, editor workspaces, and status panels. Every connection follows
// the same shape — one read loop dispatching inbound envelopes, one write
// loop draining bus subscriptions — so there is never more than one writer
// per socket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/queryproxy"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

// Hub manages the websocket channels backed by the in-process bus.
type Hub struct {
	bus    *pubsub.PubSub
	store  *store.Store
	router *QueryRouter
}

// NewHub creates a hub over the given bus, store, and query router.
func NewHub(bus *pubsub.PubSub, st *store.Store, router *QueryRouter) *Hub {
	return &Hub{bus: bus, store: st, router: router}
}

// connChannel is the bus channel private to one connection. Query replies
// and registration acks go here so only the requester sees them.
func connChannel(connID string) string {
	return "conn:" + connID
}

// ServeBoard handles a whiteboard client's connection at /ws/board/{boardID}.
// The client receives everything published to its board channel and may send
// the board inbound vocabulary; unknown events are ignored.
func (h *Hub) ServeBoard(w http.ResponseWriter, r *http.Request) {
	boardID := chi.URLParam(r, "boardID")
	if boardID == "" {
		http.Error(w, "missing board id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := uuid.NewString()
	h.store.AddBoard(boardID, "")
	h.router.EnsureBoard(boardID)

	msgs, cleanup, err := h.bus.Subscribe(ctx, connChannel(connID))
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	// Board traffic is bridged onto the private channel so the write loop
	// stays a single drain with one writer.
	if err := h.bridge(ctx, pubsub.BoardChannel(boardID), connID); err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	go func() {
		defer cancel()
		h.readBoard(ctx, conn, boardID, connID)
	}()

	h.writeLoop(ctx, conn, msgs)
}

// ServeWorkspace handles an editor workspace's connection at /ws/workspace.
// The workspace identifies itself with a register event; until then it only
// receives replies on its private channel.
func (h *Hub) ServeWorkspace(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := uuid.NewString()
	replyMsgs, cleanupReply, err := h.bus.Subscribe(ctx, connChannel(connID))
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanupReply()

	sess := &workspaceSession{hub: h, connID: connID}
	go func() {
		defer cancel()
		sess.readLoop(ctx, conn)
	}()

	h.writeLoop(ctx, conn, replyMsgs)
}

// ServePanel handles a status panel's connection at /ws/panel. Panels are
// write-only from the server's side: they get an immediate snapshot and then
// every snapshot broadcast that follows.
func (h *Hub) ServePanel(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Panels never send anything meaningful; CloseRead reaps the connection
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	msgs, cleanup, err := h.bus.Subscribe(ctx, pubsub.PanelChannel)
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	if payload, err := Marshal(EventStatusSnapshot, h.store.Snapshot()); err == nil {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
	}

	h.writeLoop(ctx, conn, msgs)
}

// writeLoop is the single writer for a connection: it drains a bus
// subscription onto the socket until the context ends or a write fails.
func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, ok := <-msgs:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}

// bridge forwards one bus channel onto a connection's private channel. The
// forwarder exits when the subscription closes, which the context ties to
// the connection's lifetime.
func (h *Hub) bridge(ctx context.Context, channel, connID string) error {
	msgs, _, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			_ = h.bus.Publish(ctx, connChannel(connID), msg)
		}
	}()
	return nil
}

// readBoard dispatches a board client's inbound envelopes until the
// connection drops.
func (h *Hub) readBoard(ctx context.Context, conn *websocket.Conn, boardID, connID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Str("boardId", boardID).Msg("malformed board message")
			continue
		}
		if _, ok := boardInbound[env.Event]; !ok {
			log.Debug().Str("event", env.Event).Str("boardId", boardID).Msg("ignoring unknown board event")
			continue
		}

		switch env.Event {
		case EventBoardRegister:
			var args struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(env.Data, &args)
			h.store.AddBoard(boardID, args.Name)

		case EventCardUpdate:
			var card domain.Card
			if err := json.Unmarshal(env.Data, &card); err != nil {
				log.Debug().Err(err).Msg("malformed cardUpdate")
				continue
			}
			card.BoardID = boardID
			if err := h.store.SetCard(&card); err != nil {
				log.Warn().Err(err).Str("boardId", boardID).Msg("rejecting card update")
			}

		case EventCardDelete:
			var args LinkArgs
			if err := json.Unmarshal(env.Data, &args); err != nil {
				continue
			}
			if err := h.store.DeleteCard(args.Link); err != nil && !errors.Is(err, domain.ErrNotFound) {
				log.Warn().Err(err).Msg("card delete failed")
			}

		case EventSelection:
			var args struct {
				Links []string `json:"miroLinks"`
			}
			if err := json.Unmarshal(env.Data, &args); err != nil {
				continue
			}
			h.router.SetSelection(boardID, args.Links)

		case EventQuery:
			h.dispatchQuery(ctx, env.Data, connID)

		case EventQueryResult:
			// No caller lives on this side of a board connection; an
			// unsolicited result is dropped, same as an unmatched id.
			log.Debug().Str("boardId", boardID).Msg("dropping unsolicited queryResult")
		}
	}
}

// dispatchQuery fans a query request out through the router and routes the
// single reply back to the requesting connection's private channel.
func (h *Hub) dispatchQuery(ctx context.Context, raw json.RawMessage, connID string) {
	var req queryproxy.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Debug().Err(err).Msg("malformed query request")
		return
	}

	reply := func(ctx context.Context, resp queryproxy.Response) error {
		payload, err := Marshal(EventQueryResult, resp)
		if err != nil {
			return err
		}
		return h.bus.Publish(ctx, connChannel(connID), payload)
	}
	h.router.Dispatch(ctx, req, reply)
}

// workspaceSession tracks one workspace connection's identity and the board
// subscriptions bridged onto its private channel.
type workspaceSession struct {
	hub         *Hub
	connID      string
	workspaceID string
}

func (s *workspaceSession) readLoop(ctx context.Context, conn *websocket.Conn) {
	var readErr error
	defer func() { s.finish(readErr) }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			readErr = err
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Msg("malformed workspace message")
			continue
		}
		if _, ok := workspaceInbound[env.Event]; !ok {
			log.Debug().Str("event", env.Event).Msg("ignoring unknown workspace event")
			continue
		}

		switch env.Event {
		case EventRegister:
			s.register(ctx, env.Data)

		case EventUnregister:
			if s.workspaceID != "" {
				s.hub.store.RemoveWorkspace(s.workspaceID)
				s.workspaceID = ""
			}

		case EventPing:
			if s.workspaceID != "" {
				_ = s.hub.store.TouchWorkspace(s.workspaceID)
			}

		case EventCardSync:
			var cards []*domain.Card
			if err := json.Unmarshal(env.Data, &cards); err != nil {
				log.Debug().Err(err).Msg("malformed cardSync")
				continue
			}
			for _, card := range cards {
				if err := s.hub.store.SetCard(card); err != nil {
					log.Warn().Err(err).Msg("rejecting synced card")
				}
			}

		case EventSymbolContext:
			// Relayed to panels verbatim; the server holds no symbol state.
			if payload, err := Marshal(EventSymbolContext, env.Data); err == nil {
				_ = s.hub.bus.Publish(ctx, pubsub.PanelChannel, payload)
			}

		case EventQuery:
			s.hub.dispatchQuery(ctx, env.Data, s.connID)
		}
	}
}

// register records the workspace and bridges its workspace channel plus the
// board channels it watches onto the connection's private channel.
func (s *workspaceSession) register(ctx context.Context, raw json.RawMessage) {
	var w domain.Workspace
	if err := json.Unmarshal(raw, &w); err != nil {
		log.Debug().Err(err).Msg("malformed register")
		return
	}

	registered, err := s.hub.store.RegisterWorkspace(&w)
	if err != nil {
		log.Warn().Err(err).Msg("workspace registration rejected")
		return
	}
	s.workspaceID = registered.ID

	channels := []string{pubsub.WorkspaceChannel(registered.ID)}
	for _, boardID := range registered.BoardIDs {
		s.hub.router.EnsureBoard(boardID)
		channels = append(channels, pubsub.BoardChannel(boardID))
	}
	for _, channel := range channels {
		if err := s.hub.bridge(ctx, channel, s.connID); err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("bridge subscribe")
		}
	}

	if payload, err := Marshal(EventRegistered, registered); err == nil {
		_ = s.hub.bus.Publish(ctx, connChannel(s.connID), payload)
	}
}

// finish decides what the connection's end means for the registration: a
// clean close is an unregister, an abnormal drop leaves the workspace in
// place for the stale sweep to age out.
func (s *workspaceSession) finish(readErr error) {
	if s.workspaceID == "" {
		return
	}

	switch websocket.CloseStatus(readErr) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.hub.store.RemoveWorkspace(s.workspaceID)
	default:
		log.Info().Str("workspaceId", s.workspaceID).
			Msg("workspace dropped without close handshake, keeping registration")
	}
}
