package domain

import "time"

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusStale        ConnectionStatus = "stale"
)

// Workspace is one editor-workspace process' registration with the
// coordinator. It is created on first handshake, removed on clean disconnect,
// and marked stale when health pings stop arriving.
type Workspace struct {
	ID               string           `json:"id"`
	RootPath         string           `json:"rootPath,omitempty"`
	BoardIDs         []string         `json:"boardIds,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	LastHealthCheck  time.Time        `json:"lastHealthCheck"`
	ReconnectCount   int              `json:"reconnectCount"`
}

// WorkspaceSummary is the per-workspace line of the status snapshot broadcast.
type WorkspaceSummary struct {
	ID       string `json:"id"`
	RootPath string `json:"rootPath,omitempty"`
}

// StatusSnapshot is broadcast on the panel channel whenever board or
// workspace membership changes, and is also readable via the REST API.
type StatusSnapshot struct {
	AllBoards           []BoardSummary     `json:"allBoards"`
	ConnectedWorkspaces []WorkspaceSummary `json:"connectedWorkspaces"`
}
