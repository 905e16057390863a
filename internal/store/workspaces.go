package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/boardpin/boardpin/internal/domain"
)

// RegisterWorkspace records an editor-workspace process' registration. A
// re-registration of a known id counts as a reconnect: the previous
// reconnect count is carried forward and incremented.
func (s *Store) RegisterWorkspace(w *domain.Workspace) (*domain.Workspace, error) {
	if w == nil || w.ID == "" {
		return nil, fmt.Errorf("store.RegisterWorkspace: %w: workspace id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	stored := &domain.Workspace{
		ID:               w.ID,
		RootPath:         w.RootPath,
		BoardIDs:         append([]string(nil), w.BoardIDs...),
		ConnectionStatus: domain.ConnectionStatusConnected,
		LastHealthCheck:  s.now(),
	}
	if prev, ok := s.workspaces[w.ID]; ok {
		stored.ReconnectCount = prev.ReconnectCount + 1
	}
	s.workspaces[w.ID] = stored
	out := *stored
	s.mu.Unlock()

	s.emit(Event{Type: EventWorkspaceUpdate, Workspace: &out})
	return &out, nil
}

// RemoveWorkspace deletes a workspace registration on clean disconnect.
func (s *Store) RemoveWorkspace(id string) {
	s.mu.Lock()
	w, ok := s.workspaces[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.workspaces, id)
	out := *w
	out.ConnectionStatus = domain.ConnectionStatusDisconnected
	s.mu.Unlock()

	s.emit(Event{Type: EventWorkspaceUpdate, Workspace: &out, Deleted: true})
}

// TouchWorkspace records a health ping from a workspace, restoring it to
// connected if it had gone stale.
func (s *Store) TouchWorkspace(id string) error {
	s.mu.Lock()
	w, ok := s.workspaces[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store.TouchWorkspace: %q: %w", id, domain.ErrNotFound)
	}
	wasStale := w.ConnectionStatus == domain.ConnectionStatusStale
	w.ConnectionStatus = domain.ConnectionStatusConnected
	w.LastHealthCheck = s.now()
	out := *w
	s.mu.Unlock()

	if wasStale {
		s.emit(Event{Type: EventWorkspaceUpdate, Workspace: &out})
	}
	return nil
}

// MarkStaleWorkspaces transitions workspaces whose last health ping is older
// than maxAge to stale, returning the ids that changed.
func (s *Store) MarkStaleWorkspaces(maxAge time.Duration) []string {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	var changed []*domain.Workspace
	for _, w := range s.workspaces {
		if w.ConnectionStatus == domain.ConnectionStatusConnected && w.LastHealthCheck.Before(cutoff) {
			w.ConnectionStatus = domain.ConnectionStatusStale
			out := *w
			changed = append(changed, &out)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(changed))
	for _, w := range changed {
		ids = append(ids, w.ID)
		s.emit(Event{Type: EventWorkspaceUpdate, Workspace: w})
	}
	sort.Strings(ids)
	return ids
}

// Workspaces returns copies of all registered workspaces, sorted by id.
func (s *Store) Workspaces() []*domain.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		dup := *w
		dup.BoardIDs = append([]string(nil), w.BoardIDs...)
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WorkspaceSummaries returns the per-workspace lines of the status snapshot.
// Stale and reconnecting workspaces are included; only removed ones are not.
func (s *Store) WorkspaceSummaries() []domain.WorkspaceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.WorkspaceSummary, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		out = append(out, domain.WorkspaceSummary{ID: w.ID, RootPath: w.RootPath})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
