package impersonation

import (
	"errors"
	"time"
)

// SessionStatus tracks the session lifecycle. Transitions only move forward:
// active -> completed | expired | terminated. All three are terminal.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusCompleted  SessionStatus = "completed"
	StatusExpired    SessionStatus = "expired"
	StatusTerminated SessionStatus = "terminated"
)

// IsTerminal reports whether the status permits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusTerminated
}

// EndCause explains why a session ended.
type EndCause string

const (
	CauseManual  EndCause = "manual"
	CauseExpired EndCause = "expired"
	CauseError   EndCause = "error"
)

// statusForCause maps an end cause to the terminal status it produces.
func statusForCause(cause EndCause) (SessionStatus, bool) {
	switch cause {
	case CauseManual:
		return StatusCompleted, true
	case CauseExpired:
		return StatusExpired, true
	case CauseError:
		return StatusTerminated, true
	}
	return "", false
}

// ActionType classifies audited actions.
type ActionType string

const (
	ActionView   ActionType = "view"
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
	ActionExport ActionType = "export"
	ActionSystem ActionType = "system"
)

// ValidActionType reports whether t is part of the closed action-type set.
func ValidActionType(t ActionType) bool {
	switch t {
	case ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionExport, ActionSystem:
		return true
	}
	return false
}

// RestrictionType identifies session-wide caps layered on top of permissions.
type RestrictionType string

const (
	RestrictionTimeLimit        RestrictionType = "time_limit"
	RestrictionActionLimit      RestrictionType = "action_limit"
	RestrictionResourceLimit    RestrictionType = "resource_limit"
	RestrictionApprovalRequired RestrictionType = "approval_required"
)

// Permission is one (action, resource) decision in a session's snapshot.
// When Allowed is false, Reason carries the human-readable denial.
type Permission struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
}

// Restriction is a session-wide cap. Value carries the numeric bound for
// time_limit (minutes) and action_limit (count); Resource names the blocked
// resource for resource_limit and the gated action for approval_required.
type Restriction struct {
	Type        RestrictionType `json:"type"`
	Description string          `json:"description"`
	Resource    string          `json:"resource,omitempty"`
	Value       int64           `json:"value,omitempty"`
	Active      bool            `json:"active"`
}

// ClientInfo is the request context captured once at session creation.
type ClientInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Session is a time-boxed grant allowing one identity to act within a
// tenant's data. The permission and restriction snapshot is fixed at
// creation and never re-evaluated against live role definitions.
type Session struct {
	ID               string        `json:"id"`
	ImpersonatorID   string        `json:"impersonator_id"`
	ImpersonatorRole string        `json:"impersonator_role"`
	TenantID         string        `json:"tenant_id"`
	TargetUserID     string        `json:"target_user_id,omitempty"`
	Reason           string        `json:"reason"`
	TicketRef        string        `json:"ticket_ref,omitempty"`
	RequestedBy      string        `json:"requested_by,omitempty"`
	Status           SessionStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	Permissions      []Permission  `json:"permissions"`
	Restrictions     []Restriction `json:"restrictions"`
	Client           ClientInfo    `json:"client"`
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Permit looks up the snapshot entry matching (action, resource) exactly.
// Absent an explicit grant the answer is deny (fail closed). The result is a
// pure function of the snapshot, so the same session always answers the same.
func (s Session) Permit(action, resource string) Decision {
	for _, p := range s.Permissions {
		if p.Action == action && p.Resource == resource {
			if p.Allowed {
				return Decision{Allowed: true}
			}
			reason := p.Reason
			if reason == "" {
				reason = "denied by permission snapshot"
			}
			return Decision{Allowed: false, Reason: reason}
		}
	}
	return Decision{Allowed: false, Reason: "no explicit grant"}
}

// AuditEntry is an immutable record of one action attempted under a session.
// Entries are append-only and outlive the session they reference.
type AuditEntry struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	ImpersonatorID string            `json:"impersonator_id"`
	TenantID       string            `json:"tenant_id"`
	Action         string            `json:"action"`
	ActionType     ActionType        `json:"action_type"`
	Resource       string            `json:"resource"`
	ResourceID     string            `json:"resource_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	Success        bool              `json:"success"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ClientIP       string            `json:"client_ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// AuditFilter selects audit entries for paginated reads.
type AuditFilter struct {
	SessionID  string
	ActionType ActionType
	Success    *bool
	AfterID    string
	Limit      int
}

var (
	ErrRoleNotAllowed     = errors.New("impersonation: role not allowed")
	ErrInvalidReason      = errors.New("impersonation: reason too short")
	ErrDurationOutOfRange = errors.New("impersonation: duration out of range")
	ErrSessionActive      = errors.New("impersonation: impersonator already has an active session")
	ErrSessionExpired     = errors.New("impersonation: session expired")
	ErrSessionEnded       = errors.New("impersonation: session ended")
	ErrNotFound           = errors.New("impersonation: not found")
	ErrInvalidInput       = errors.New("impersonation: invalid input")
	ErrTenantUnavailable  = errors.New("impersonation: tenant unavailable")
	ErrAuditWriteFailed   = errors.New("impersonation: audit write failed")
)
