package ws

import (
	"encoding/json"
	"fmt"
)

// Envelope is the framing for every socket message: a named event plus an
// opaque payload. Each channel accepts a closed set of event names; an
// unknown name is ignored, never fatal, so vocabulary growth does not break
// older peers.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names shared by all channels.
const (
	EventQuery       = "query"
	EventQueryResult = "queryResult"
)

// Board channel events (whiteboard-client traffic).
const (
	EventBoardRegister = "boardRegister"
	EventCardUpdate    = "cardUpdate"
	EventCardDelete    = "cardDelete"
	EventSelection     = "selection"
	EventSelectCard    = "selectCard"
	EventHoverCard     = "hoverCard"
	EventBoardUpdate   = "boardUpdate"
)

// Workspace channel events (editor-workspace traffic).
const (
	EventRegister        = "register"
	EventRegistered      = "registered"
	EventUnregister      = "unregister"
	EventPing            = "ping"
	EventCardSync        = "cardSync"
	EventWorkspaceStatus = "workspaceStatus"
)

// Panel channel events (UI-panel traffic).
const (
	EventStatusSnapshot = "statusSnapshot"
	EventSymbolContext  = "symbolContext"
)

// boardInbound is the closed set of events a board client may send.
var boardInbound = map[string]struct{}{
	EventQuery:         {},
	EventQueryResult:   {},
	EventBoardRegister: {},
	EventCardUpdate:    {},
	EventCardDelete:    {},
	EventSelection:     {},
}

// workspaceInbound is the closed set of events a workspace may send.
var workspaceInbound = map[string]struct{}{
	EventQuery:         {},
	EventRegister:      {},
	EventUnregister:    {},
	EventPing:          {},
	EventCardSync:      {},
	EventSymbolContext: {},
}

// Marshal packs an event and payload into wire bytes.
func Marshal(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("ws.Marshal: %s payload: %w", event, err)
		}
		raw = encoded
	}
	out, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("ws.Marshal: %s: %w", event, err)
	}
	return out, nil
}
