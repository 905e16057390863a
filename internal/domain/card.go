package domain

import (
	"fmt"
	"time"
)

type CardType string

const (
	CardTypeSymbol CardType = "symbol"
	CardTypeGroup  CardType = "group"
)

type CardStatus string

const (
	CardStatusConnected    CardStatus = "connected"
	CardStatusDisconnected CardStatus = "disconnected"
)

// Card is a single pinned code reference on a board. The Link field is the
// card's primary key: it is assigned once when the card is created on the
// whiteboard and never changes, even when a re-attach rewrites Path and Symbol.
type Card struct {
	BoardID   string     `json:"boardId"`
	Type      CardType   `json:"type"`
	Title     string     `json:"title"`
	Path      string     `json:"path"`
	Link      string     `json:"miroLink"`
	Status    CardStatus `json:"status"`
	Symbol    string     `json:"symbol,omitempty"`
	CodeLink  *string    `json:"codeLink,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Validate rejects structurally incomplete cards at the boundary so the store
// never holds a partially-invalid entity.
func (c *Card) Validate() error {
	if c.Link == "" {
		return fmt.Errorf("%w: card link is required", ErrValidation)
	}
	if c.BoardID == "" {
		return fmt.Errorf("%w: card %q missing board id", ErrValidation, c.Link)
	}
	if c.Path == "" {
		return fmt.Errorf("%w: card %q missing path", ErrValidation, c.Link)
	}
	switch c.Type {
	case CardTypeSymbol:
		if c.Symbol == "" {
			return fmt.Errorf("%w: symbol card %q missing symbol name", ErrValidation, c.Link)
		}
	case CardTypeGroup:
		// Group cards carry only aggregate display fields.
	default:
		return fmt.Errorf("%w: card %q has unknown type %q", ErrValidation, c.Link, c.Type)
	}
	return nil
}

// Clone returns a deep copy so store callers cannot alias canonical state.
func (c *Card) Clone() *Card {
	dup := *c
	if c.CodeLink != nil {
		link := *c.CodeLink
		dup.CodeLink = &link
	}
	if c.Tags != nil {
		dup.Tags = append([]string(nil), c.Tags...)
	}
	return &dup
}
