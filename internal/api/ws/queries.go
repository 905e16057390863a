package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/boardpin/boardpin/internal/domain"
	"github.com/boardpin/boardpin/internal/queryproxy"
	"github.com/boardpin/boardpin/internal/store"
	"github.com/boardpin/boardpin/internal/store/pubsub"
)

// Query argument shapes. Args decode leniently: absent optional fields keep
// their zero values.
type (
	// SetBoardNameArgs renames a board.
	SetBoardNameArgs struct {
		Name string `json:"name"`
	}

	// CreateCardsArgs creates cards and optionally auto-connects a set of
	// existing cards alongside them.
	CreateCardsArgs struct {
		Cards   []*domain.Card `json:"cards"`
		Connect []string       `json:"connect,omitempty"`
	}

	// AttachArgs re-attaches the currently selected card to a new code
	// location. The card link never changes; path and symbol do.
	AttachArgs struct {
		Path     string  `json:"path"`
		Symbol   string  `json:"symbol,omitempty"`
		CodeLink *string `json:"codeLink,omitempty"`
	}

	// CardStatusArgs sets a card's connected/disconnected status.
	CardStatusArgs struct {
		Link   string            `json:"miroLink"`
		Status domain.CardStatus `json:"status"`
	}

	// LinkArgs identifies a card by its link.
	LinkArgs struct {
		Link string `json:"miroLink"`
	}

	// TagArgs applies or removes a tag on a set of cards.
	TagArgs struct {
		Tag   string   `json:"tag"`
		Links []string `json:"miroLinks"`
	}
)

// QueryRouter owns one store-backed responder per known board and fans
// every inbound query out to all of them. Exactly the responder whose board
// matches answers; the rest ignore the request, which is what keeps a
// broadcast channel shared by many boards free of duplicate replies.
type QueryRouter struct {
	store *store.Store
	bus   *pubsub.PubSub

	mu         sync.Mutex
	responders map[string]*queryproxy.Responder
	selections map[string][]string // board id -> selected card links
}

// NewQueryRouter creates an empty router.
func NewQueryRouter(st *store.Store, bus *pubsub.PubSub) *QueryRouter {
	return &QueryRouter{
		store:      st,
		bus:        bus,
		responders: make(map[string]*queryproxy.Responder),
		selections: make(map[string][]string),
	}
}

// EnsureBoard registers a responder for boardID if none exists yet.
func (q *QueryRouter) EnsureBoard(boardID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.responders[boardID]; ok {
		return
	}
	r := queryproxy.NewResponder(boardID)
	q.register(boardID, r)
	q.responders[boardID] = r
}

// SetSelection records the board client's current card selection.
func (q *QueryRouter) SetSelection(boardID string, links []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.selections[boardID] = append([]string(nil), links...)
}

// Selection returns the currently selected links for a board.
func (q *QueryRouter) Selection(boardID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.selections[boardID]...)
}

// Dispatch fans an inbound request out to every board responder. The reply
// function routes the single answer back to the requesting connection.
func (q *QueryRouter) Dispatch(ctx context.Context, req queryproxy.Request, reply queryproxy.ReplyFunc) {
	q.mu.Lock()
	responders := make([]*queryproxy.Responder, 0, len(q.responders))
	for _, r := range q.responders {
		responders = append(responders, r)
	}
	q.mu.Unlock()

	for _, r := range responders {
		if err := r.Dispatch(ctx, req, reply); err != nil {
			log.Error().Err(err).Str("requestId", req.RequestID).Msg("query reply failed")
		}
	}
}

// register wires the store-backed handlers for one board. Called with q.mu
// held.
func (q *QueryRouter) register(boardID string, r *queryproxy.Responder) {
	r.Handle(domain.QueryGetBoardCards, func(_ context.Context, _ json.RawMessage) (any, error) {
		return q.store.BoardCards(boardID), nil
	})

	r.Handle(domain.QueryGetBoardInfo, func(_ context.Context, _ json.RawMessage) (any, error) {
		return q.store.Board(boardID)
	})

	r.Handle(domain.QuerySetBoardName, func(_ context.Context, raw json.RawMessage) (any, error) {
		var args SetBoardNameArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding setBoardName args: %w", err)
		}
		if args.Name == "" {
			return nil, fmt.Errorf("%w: board name is required", domain.ErrValidation)
		}
		if err := q.store.SetBoardName(boardID, args.Name); err != nil {
			return nil, err
		}
		return q.store.Board(boardID)
	})

	r.Handle(domain.QueryGetSelectedCards, func(_ context.Context, _ json.RawMessage) (any, error) {
		cards := make([]*domain.Card, 0)
		for _, link := range q.Selection(boardID) {
			card, err := q.store.Card(link)
			if err != nil {
				continue
			}
			cards = append(cards, card)
		}
		return cards, nil
	})

	r.Handle(domain.QueryCreateCards, func(_ context.Context, raw json.RawMessage) (any, error) {
		var args CreateCardsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding createCards args: %w", err)
		}
		created := make([]*domain.Card, 0, len(args.Cards))
		for _, card := range args.Cards {
			card.BoardID = boardID
			if card.Status == "" {
				card.Status = domain.CardStatusConnected
			}
			if err := q.store.SetCard(card); err != nil {
				return nil, err
			}
			stored, err := q.store.Card(card.Link)
			if err != nil {
				return nil, err
			}
			created = append(created, stored)
		}
		// Auto-connect: the listed existing cards come along as connected.
		for _, link := range args.Connect {
			if err := q.store.SetCardStatus(link, domain.CardStatusConnected); err != nil {
				log.Debug().Str("miroLink", link).Msg("auto-connect target not found, skipping")
			}
		}
		return created, nil
	})

	r.Handle(domain.QueryAttachCardToSelection, func(_ context.Context, raw json.RawMessage) (any, error) {
		var args AttachArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding attachCardToSelection args: %w", err)
		}
		selection := q.Selection(boardID)
		if len(selection) == 0 {
			return nil, fmt.Errorf("%w: no card selected on board %s", domain.ErrNotFound, boardID)
		}
		card, err := q.store.Card(selection[0])
		if err != nil {
			return nil, err
		}
		card.Path = args.Path
		if card.Type == domain.CardTypeSymbol && args.Symbol != "" {
			card.Symbol = args.Symbol
		}
		card.CodeLink = args.CodeLink
		card.Status = domain.CardStatusConnected
		if err := q.store.SetCard(card); err != nil {
			return nil, err
		}
		return q.store.Card(card.Link)
	})

	r.Handle(domain.QuerySetCardStatus, func(_ context.Context, raw json.RawMessage) (any, error) {
		var args CardStatusArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding setCardStatus args: %w", err)
		}
		if args.Status != domain.CardStatusConnected && args.Status != domain.CardStatusDisconnected {
			return nil, fmt.Errorf("%w: unknown card status %q", domain.ErrValidation, args.Status)
		}
		if err := q.store.SetCardStatus(args.Link, args.Status); err != nil {
			return nil, err
		}
		return q.store.Card(args.Link)
	})

	r.Handle(domain.QuerySelectCard, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args LinkArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding selectCard args: %w", err)
		}
		card, err := q.store.Card(args.Link)
		if err != nil {
			return nil, err
		}
		if card.BoardID != boardID {
			return nil, fmt.Errorf("%w: card %s", domain.ErrBoardMismatch, args.Link)
		}
		q.SetSelection(boardID, []string{args.Link})
		q.publishBoardEvent(ctx, boardID, EventSelectCard, card)
		return card, nil
	})

	r.Handle(domain.QueryHoverCard, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args LinkArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding hoverCard args: %w", err)
		}
		card, err := q.store.Card(args.Link)
		if err != nil {
			return nil, err
		}
		q.publishBoardEvent(ctx, boardID, EventHoverCard, card)
		return true, nil
	})

	r.Handle(domain.QueryTagCards, func(_ context.Context, raw json.RawMessage) (any, error) {
		var args TagArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding tagCards args: %w", err)
		}
		if args.Tag == "" {
			return nil, fmt.Errorf("%w: tag is required", domain.ErrValidation)
		}
		return q.store.TagCards(boardID, args.Tag, args.Links), nil
	})

	r.Handle(domain.QueryUntagCards, func(_ context.Context, raw json.RawMessage) (any, error) {
		var args TagArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding untagCards args: %w", err)
		}
		return q.store.UntagCards(boardID, args.Tag, args.Links), nil
	})

	r.Handle(domain.QueryListTags, func(_ context.Context, _ json.RawMessage) (any, error) {
		return q.store.Tags(boardID), nil
	})
}

func (q *QueryRouter) publishBoardEvent(ctx context.Context, boardID, event string, data any) {
	payload, err := Marshal(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encoding board event")
		return
	}
	_ = q.bus.Publish(ctx, pubsub.BoardChannel(boardID), payload)
}
