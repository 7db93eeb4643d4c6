package impersonation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore implements SessionStore and AuditStore with in-process
// concurrency safety. Used by tests and as the dev fallback when no
// database DSN is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	entries  []AuditEntry

	// FailAppends makes the next N Append calls fail. Test hook for the
	// recorder's retry path.
	failAppends int
	appendErr   error
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

var (
	_ SessionStore = (*InMemoryStore)(nil)
	_ AuditStore   = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneSession(session)
	s.sessions[session.ID] = cp
	return nil
}

func (s *InMemoryStore) Find(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *InMemoryStore) ActiveByImpersonator(ctx context.Context, impersonatorID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.ImpersonatorID == impersonatorID && session.Status == StatusActive {
			return cloneSession(session), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) Finish(ctx context.Context, id string, status SessionStatus, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if session.Status.IsTerminal() {
		return false, nil
	}
	ended := endedAt.UTC()
	session.Status = status
	session.EndedAt = &ended
	return true, nil
}

func (s *InMemoryStore) Append(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppends > 0 {
		s.failAppends--
		return s.appendErr
	}
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	matched := make([]AuditEntry, 0, limit)
	for _, e := range s.entries {
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.ActionType != "" && e.ActionType != filter.ActionType {
			continue
		}
		if filter.Success != nil && e.Success != *filter.Success {
			continue
		}
		// Cursor semantics match the SQL store: strictly greater IDs, whether
		// or not the cursor row itself still matches the filter.
		if filter.AfterID != "" && e.ID <= filter.AfterID {
			continue
		}
		matched = append(matched, cloneEntry(&e))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStore) CountActions(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.SessionID == sessionID && e.ActionType != ActionSystem {
			n++
		}
	}
	return n, nil
}

// FailNextAppends arms the append failure hook.
func (s *InMemoryStore) FailNextAppends(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppends = n
	s.appendErr = err
}

func cloneSession(in *Session) *Session {
	out := *in
	out.Permissions = append([]Permission(nil), in.Permissions...)
	out.Restrictions = append([]Restriction(nil), in.Restrictions...)
	if in.EndedAt != nil {
		ended := *in.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

func cloneEntry(in *AuditEntry) AuditEntry {
	out := *in
	if len(in.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
