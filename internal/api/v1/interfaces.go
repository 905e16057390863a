// Package v1 exposes the coordinator's read-only REST surface. Mutation goes
// through the socket channels; the REST API exists for tooling and the status
// panel's initial fetches.
package v1

import (
	"github.com/boardpin/boardpin/internal/domain"
)

// DataStore is the slice of the store the REST handlers read from.
type DataStore interface {
	Boards() []*domain.Board
	Board(id string) (*domain.Board, error)
	BoardCards(boardID string) []*domain.Card
	ConnectedBoards() []*domain.Board
	Card(link string) (*domain.Card, error)
	Tags(boardID string) []string
	Workspaces() []*domain.Workspace
	Snapshot() domain.StatusSnapshot
}
