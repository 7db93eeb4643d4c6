package impersonation

import (
	"context"
	"time"
)

// SessionStore persists impersonation sessions. Sessions are never hard
// deleted; termination writes ended_at and a terminal status only.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// ActiveByImpersonator returns the impersonator's active session, or
	// ErrNotFound when none exists.
	ActiveByImpersonator(ctx context.Context, impersonatorID string) (*Session, error)
	// Finish transitions an active session to a terminal status and writes
	// ended_at. It reports false when the session was already terminal, in
	// which case the stored record is left untouched.
	Finish(ctx context.Context, id string, status SessionStatus, endedAt time.Time) (bool, error)
}

// AuditStore appends immutable entries and serves paginated reads. Append
// must be safe under concurrent calls for the same session; entries are
// independent inserts ordered by creation time within a session.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	// CountActions returns the number of non-system entries for a session.
	CountActions(ctx context.Context, sessionID string) (int64, error)
}
