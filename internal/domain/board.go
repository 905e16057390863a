package domain

import "time"

// Board is one shared card space. Boards are created when a board client
// first connects and are never explicitly deleted; a board with no connected
// client is simply inactive.
type Board struct {
	ID        string    `json:"boardId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BoardSummary is the per-board line of the status snapshot broadcast.
type BoardSummary struct {
	BoardID   string `json:"boardId"`
	Name      string `json:"name"`
	CardCount int    `json:"cardCount"`
}
