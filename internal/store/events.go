package store

import "github.com/boardpin/boardpin/internal/domain"

// EventType names a store change notification.
type EventType string

const (
	// EventBoardUpdate fires on any card or board mutation within a board.
	EventBoardUpdate EventType = "boardUpdate"
	// EventConnectedBoards fires when the set of boards with at least one
	// card changes.
	EventConnectedBoards EventType = "connectedBoards"
	// EventWorkspaceUpdate fires on workspace registration, removal, or
	// status change.
	EventWorkspaceUpdate EventType = "workspaceUpdate"
)

// Event is delivered to subscribers synchronously after a mutation commits.
// Only the fields relevant to the event type are populated.
type Event struct {
	Type      EventType
	BoardID   string
	Card      *domain.Card
	Board     *domain.Board
	Workspace *domain.Workspace
	// Deleted marks card/workspace removal events.
	Deleted bool
}

// Subscriber receives store events. Subscribers run synchronously on the
// mutating goroutine after the store's lock has been released, so they may
// read the store but must not block.
type Subscriber func(Event)
