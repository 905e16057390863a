package client

import (
	"sort"
	"sync"

	"github.com/boardpin/boardpin/internal/domain"
)

// cardCache holds the last known cards per board. Entries exist only for
// boards the consumer asked about; a board with no entry means "ask the
// server", not "empty".
type cardCache struct {
	mu     sync.Mutex
	boards map[string]map[string]*domain.Card // board id -> link -> card
}

func newCardCache() *cardCache {
	return &cardCache{boards: make(map[string]map[string]*domain.Card)}
}

func (cc *cardCache) get(boardID string) ([]*domain.Card, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cards, ok := cc.boards[boardID]
	if !ok {
		return nil, false
	}
	out := make([]*domain.Card, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out, true
}

func (cc *cardCache) put(boardID string, cards []*domain.Card) {
	entry := make(map[string]*domain.Card, len(cards))
	for _, c := range cards {
		entry[c.Link] = c.Clone()
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.boards[boardID] = entry
}

// update applies a broadcast card change to the board's entry, if one is
// cached.
func (cc *cardCache) update(card *domain.Card) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	entry, ok := cc.boards[card.BoardID]
	if !ok {
		return
	}
	entry[card.Link] = card.Clone()
}

func (cc *cardCache) remove(card *domain.Card) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if entry, ok := cc.boards[card.BoardID]; ok {
		delete(entry, card.Link)
	}
}

func (cc *cardCache) clear() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.boards = make(map[string]map[string]*domain.Card)
}
