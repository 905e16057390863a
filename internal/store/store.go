// Package store holds the canonical in-memory card/board state owned by
// whichever process currently holds the server role. It does no I/O: all
// mutation is synchronous, serialized by one mutex, and announced through
// change events emitted after the mutation commits.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boardpin/boardpin/internal/domain"
)

// Store is the canonical card/board data store. Card identity is the card
// link: SetCard with a known link updates in place, so a link stays a stable
// primary key across symbol/path rewrites.
type Store struct {
	mu         sync.Mutex
	boards     map[string]*domain.Board
	cards      map[string]*domain.Card        // keyed by card link
	boardCards map[string]map[string]struct{} // board id -> set of links
	workspaces map[string]*domain.Workspace

	subMu     sync.Mutex
	subs      []subscription
	nextSubID int

	now func() time.Time
}

type subscription struct {
	id int
	fn Subscriber
}

// New creates an empty store.
func New() *Store {
	return &Store{
		boards:     make(map[string]*domain.Board),
		cards:      make(map[string]*domain.Card),
		boardCards: make(map[string]map[string]struct{}),
		workspaces: make(map[string]*domain.Workspace),
		now:        time.Now,
	}
}

// Subscribe registers a change subscriber. Subscribers are invoked in
// registration order. The returned function unsubscribes.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// emit delivers events to subscribers. Called after the store mutex is
// released so subscribers see committed state.
func (s *Store) emit(events ...Event) {
	s.subMu.Lock()
	subs := append([]subscription(nil), s.subs...)
	s.subMu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			sub.fn(ev)
		}
	}
}

// AddBoard registers a board, creating it if unknown. Re-adding an existing
// board keeps its cards and refreshes the name when one is given.
func (s *Store) AddBoard(id, name string) *domain.Board {
	s.mu.Lock()
	b, ok := s.boards[id]
	if !ok {
		b = &domain.Board{
			ID:        id,
			Name:      name,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		s.boards[id] = b
		s.boardCards[id] = make(map[string]struct{})
	} else if name != "" && name != b.Name {
		b.Name = name
		b.UpdatedAt = s.now()
	}
	out := *b
	s.mu.Unlock()

	s.emit(Event{Type: EventBoardUpdate, BoardID: id, Board: &out})
	return &out
}

// Board returns a copy of the board with the given id.
func (s *Store) Board(id string) (*domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[id]
	if !ok {
		return nil, fmt.Errorf("store.Board: board %q: %w", id, domain.ErrNotFound)
	}
	out := *b
	return &out, nil
}

// Boards returns copies of all known boards, sorted by id for stable output.
func (s *Store) Boards() []*domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Board, 0, len(s.boards))
	for _, b := range s.boards {
		dup := *b
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetBoardName renames a board.
func (s *Store) SetBoardName(id, name string) error {
	s.mu.Lock()
	b, ok := s.boards[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store.SetBoardName: board %q: %w", id, domain.ErrNotFound)
	}
	b.Name = name
	b.UpdatedAt = s.now()
	out := *b
	s.mu.Unlock()

	s.emit(Event{Type: EventBoardUpdate, BoardID: id, Board: &out})
	return nil
}

// SetCard inserts or updates a card keyed by its link. The card is validated
// first; the store never holds a partially-invalid entity. The board is
// created implicitly when unknown so a card arriving before its board's
// registration is not lost.
func (s *Store) SetCard(card *domain.Card) error {
	if card == nil {
		return fmt.Errorf("store.SetCard: %w: nil card", domain.ErrValidation)
	}
	if err := card.Validate(); err != nil {
		return fmt.Errorf("store.SetCard: %w", err)
	}

	stored := card.Clone()
	stored.UpdatedAt = s.now()

	s.mu.Lock()
	if _, ok := s.boards[stored.BoardID]; !ok {
		s.boards[stored.BoardID] = &domain.Board{
			ID:        stored.BoardID,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		s.boardCards[stored.BoardID] = make(map[string]struct{})
	}

	prev, existed := s.cards[stored.Link]
	if existed && prev.BoardID != stored.BoardID {
		delete(s.boardCards[prev.BoardID], stored.Link)
	}
	firstOnBoard := len(s.boardCards[stored.BoardID]) == 0

	s.cards[stored.Link] = stored
	s.boardCards[stored.BoardID][stored.Link] = struct{}{}
	out := stored.Clone()
	s.mu.Unlock()

	events := []Event{{Type: EventBoardUpdate, BoardID: out.BoardID, Card: out}}
	if !existed && firstOnBoard {
		events = append(events, Event{Type: EventConnectedBoards, BoardID: out.BoardID})
	}
	s.emit(events...)
	return nil
}

// Card returns a copy of the card with the given link.
func (s *Store) Card(link string) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[link]
	if !ok {
		return nil, fmt.Errorf("store.Card: %q: %w", link, domain.ErrNotFound)
	}
	return c.Clone(), nil
}

// DeleteCard removes a card by link. Deleting an unknown link is a no-op
// returning ErrNotFound so callers can distinguish, but emits nothing.
func (s *Store) DeleteCard(link string) error {
	s.mu.Lock()
	c, ok := s.cards[link]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store.DeleteCard: %q: %w", link, domain.ErrNotFound)
	}
	delete(s.cards, link)
	delete(s.boardCards[c.BoardID], link)
	lastOnBoard := len(s.boardCards[c.BoardID]) == 0
	out := c.Clone()
	s.mu.Unlock()

	events := []Event{{Type: EventBoardUpdate, BoardID: out.BoardID, Card: out, Deleted: true}}
	if lastOnBoard {
		events = append(events, Event{Type: EventConnectedBoards, BoardID: out.BoardID})
	}
	s.emit(events...)
	return nil
}

// BoardCards returns copies of all cards on a board, sorted by link.
func (s *Store) BoardCards(boardID string) []*domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.boardCards[boardID]
	out := make([]*domain.Card, 0, len(links))
	for link := range links {
		out = append(out, s.cards[link].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out
}

// ConnectedBoards returns copies of all boards that currently hold at least
// one card.
func (s *Store) ConnectedBoards() []*domain.Board {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Board, 0, len(s.boards))
	for id, links := range s.boardCards {
		if len(links) == 0 {
			continue
		}
		dup := *s.boards[id]
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetCardStatus updates a card's connected/disconnected status in place.
func (s *Store) SetCardStatus(link string, status domain.CardStatus) error {
	s.mu.Lock()
	c, ok := s.cards[link]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store.SetCardStatus: %q: %w", link, domain.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = s.now()
	out := c.Clone()
	s.mu.Unlock()

	s.emit(Event{Type: EventBoardUpdate, BoardID: out.BoardID, Card: out})
	return nil
}

// TagCards adds a tag to every card in links that belongs to boardID. Links
// on other boards or unknown links are skipped, not errors: tagging follows
// the board-scoped filtering rule of the query protocol.
func (s *Store) TagCards(boardID, tag string, links []string) []*domain.Card {
	if tag == "" {
		return nil
	}

	s.mu.Lock()
	var changed []*domain.Card
	for _, link := range links {
		c, ok := s.cards[link]
		if !ok || c.BoardID != boardID {
			continue
		}
		if hasTag(c.Tags, tag) {
			continue
		}
		c.Tags = append(c.Tags, tag)
		c.UpdatedAt = s.now()
		changed = append(changed, c.Clone())
	}
	s.mu.Unlock()

	for _, c := range changed {
		s.emit(Event{Type: EventBoardUpdate, BoardID: c.BoardID, Card: c})
	}
	return changed
}

// UntagCards removes a tag from every card in links that belongs to boardID.
func (s *Store) UntagCards(boardID, tag string, links []string) []*domain.Card {
	s.mu.Lock()
	var changed []*domain.Card
	for _, link := range links {
		c, ok := s.cards[link]
		if !ok || c.BoardID != boardID || !hasTag(c.Tags, tag) {
			continue
		}
		tags := c.Tags[:0]
		for _, existing := range c.Tags {
			if existing != tag {
				tags = append(tags, existing)
			}
		}
		c.Tags = tags
		c.UpdatedAt = s.now()
		changed = append(changed, c.Clone())
	}
	s.mu.Unlock()

	for _, c := range changed {
		s.emit(Event{Type: EventBoardUpdate, BoardID: c.BoardID, Card: c})
	}
	return changed
}

// Tags returns the distinct tags in use on a board, sorted.
func (s *Store) Tags(boardID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{})
	for link := range s.boardCards[boardID] {
		for _, tag := range s.cards[link].Tags {
			set[tag] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// BoardSummaries returns the per-board lines of the status snapshot.
func (s *Store) BoardSummaries() []domain.BoardSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.BoardSummary, 0, len(s.boards))
	for id, b := range s.boards {
		out = append(out, domain.BoardSummary{
			BoardID:   id,
			Name:      b.Name,
			CardCount: len(s.boardCards[id]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoardID < out[j].BoardID })
	return out
}

// Snapshot builds the status snapshot broadcast on membership changes.
func (s *Store) Snapshot() domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		AllBoards:           s.BoardSummaries(),
		ConnectedWorkspaces: s.WorkspaceSummaries(),
	}
	return snap
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
