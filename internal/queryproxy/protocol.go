// Package queryproxy layers correlated request/response calls over a
// transport that only supports fire-and-forget messages. A caller tags each
// request with a fresh random id and parks a pending entry until the
// matching response arrives or the deadline passes; a responder executes
// named handlers and always answers with the same id, whether the handler
// produced a value or an error.
package queryproxy

import (
	"encoding/json"

	"github.com/boardpin/boardpin/internal/domain"
)

// Request is the wire form of a proxied query call.
type Request struct {
	RequestID string           `json:"requestId"`
	BoardID   string           `json:"boardId"`
	Query     domain.QueryName `json:"query"`
	Args      json.RawMessage  `json:"args,omitempty"`
}

// Response is the wire form of a query reply. Exactly one of Response and
// Error is set.
type Response struct {
	RequestID string          `json:"requestId"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}
