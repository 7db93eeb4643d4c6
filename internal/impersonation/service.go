package impersonation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"seatgrid.io/internal/ids"
	"seatgrid.io/internal/obs"
)

const (
	minDurationMinutes = 5
	maxDurationMinutes = 480
	minReasonLength    = 10

	defaultAuditRetries    = 3
	defaultAuditRetryDelay = 50 * time.Millisecond
)

// DefaultAllowedRoles is the elevated set permitted to start sessions.
var DefaultAllowedRoles = []string{"SUPPORT", "PLATFORM_ADMIN", "SECURITY"}

// TenantDirectory answers whether a tenant exists and is able to receive
// support sessions.
type TenantDirectory interface {
	CheckActive(ctx context.Context, tenantID string) error
}

// Notifier dispatches session lifecycle notifications. Failures are the
// notifier's problem; the session operation never blocks on them.
type Notifier interface {
	SessionStarted(ctx context.Context, session Session) error
	SessionEnded(ctx context.Context, session Session, actionCount int64) error
}

// Alerter receives escalations when an audit write is lost after retries.
type Alerter interface {
	Alert(ctx context.Context, msg string, fields map[string]string)
}

// Service owns the impersonation session lifecycle: issuing, guarding,
// recording, and terminating.
type Service struct {
	sessions SessionStore
	audit    AuditStore
	tenants  TenantDirectory
	notifier Notifier
	alerter  Alerter
	sink     func(AuditEntry)

	now             func() time.Time
	allowedRoles    map[string]struct{}
	maxDuration     time.Duration
	allowConcurrent bool
	notifyOnStart   bool
	notifyOnEnd     bool
	auditRetries    int
	auditRetryDelay time.Duration

	permissionTemplate  func(tenantID string) []Permission
	restrictionTemplate func(tenantID string, maxMinutes int64) []Restriction
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAllowedRoles replaces the role allow-list.
func WithAllowedRoles(roles []string) Option {
	return func(s *Service) {
		if len(roles) == 0 {
			return
		}
		set := make(map[string]struct{}, len(roles))
		for _, r := range roles {
			r = strings.TrimSpace(strings.ToUpper(r))
			if r != "" {
				set[r] = struct{}{}
			}
		}
		s.allowedRoles = set
	}
}

// WithMaxDuration caps the effective session duration.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// WithConcurrentSessions allows an impersonator to hold several active
// sessions across tenants at once. Denied by default for auditability.
func WithConcurrentSessions(allow bool) Option {
	return func(s *Service) { s.allowConcurrent = allow }
}

// WithTenantDirectory wires tenant existence/status lookups.
func WithTenantDirectory(dir TenantDirectory) Option {
	return func(s *Service) { s.tenants = dir }
}

// WithNotifier enables start/end notifications.
func WithNotifier(n Notifier, onStart, onEnd bool) Option {
	return func(s *Service) {
		s.notifier = n
		s.notifyOnStart = onStart
		s.notifyOnEnd = onEnd
	}
}

// WithAlerter wires the operational alert channel for lost audit writes.
func WithAlerter(a Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

// WithAuditSink registers a callback invoked after every persisted audit
// entry. The callback must not block.
func WithAuditSink(fn func(AuditEntry)) Option {
	return func(s *Service) { s.sink = fn }
}

// WithAuditRetry tunes the recorder's bounded retry.
func WithAuditRetry(retries int, delay time.Duration) Option {
	return func(s *Service) {
		if retries >= 0 {
			s.auditRetries = retries
		}
		if delay >= 0 {
			s.auditRetryDelay = delay
		}
	}
}

// NewService constructs a Service over the given stores.
func NewService(sessions SessionStore, audit AuditStore, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("impersonation: session store is required")
	}
	if audit == nil {
		return nil, errors.New("impersonation: audit store is required")
	}
	s := &Service{
		sessions:            sessions,
		audit:               audit,
		now:                 time.Now,
		maxDuration:         maxDurationMinutes * time.Minute,
		auditRetries:        defaultAuditRetries,
		auditRetryDelay:     defaultAuditRetryDelay,
		permissionTemplate:  DefaultPermissions,
		restrictionTemplate: DefaultRestrictions,
	}
	WithAllowedRoles(DefaultAllowedRoles)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartParams carries everything the issuer needs to create a session.
type StartParams struct {
	ImpersonatorID   string
	ImpersonatorRole string
	TenantID         string
	TargetUserID     string
	Reason           string
	TicketRef        string
	RequestedBy      string
	DurationMinutes  int
	Client           ClientInfo
}

// StartSession validates the requesting actor, snapshots the default
// permission/restriction template, and persists a new active session.
func (s *Service) StartSession(ctx context.Context, p StartParams) (Session, error) {
	impersonatorID := strings.TrimSpace(p.ImpersonatorID)
	tenantID := strings.TrimSpace(p.TenantID)
	if impersonatorID == "" || tenantID == "" {
		return Session{}, fmt.Errorf("%w: impersonator_id and tenant_id are required", ErrInvalidInput)
	}
	role := strings.TrimSpace(strings.ToUpper(p.ImpersonatorRole))
	if _, ok := s.allowedRoles[role]; !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrRoleNotAllowed, role)
	}
	reason := strings.TrimSpace(p.Reason)
	if len(reason) < minReasonLength {
		return Session{}, fmt.Errorf("%w: need at least %d characters", ErrInvalidReason, minReasonLength)
	}
	if p.DurationMinutes < minDurationMinutes || p.DurationMinutes > maxDurationMinutes {
		return Session{}, fmt.Errorf("%w: %d minutes (allowed %d-%d)",
			ErrDurationOutOfRange, p.DurationMinutes, minDurationMinutes, maxDurationMinutes)
	}

	if s.tenants != nil {
		if err := s.tenants.CheckActive(ctx, tenantID); err != nil {
			return Session{}, fmt.Errorf("%w: %s", ErrTenantUnavailable, tenantID)
		}
	}

	if !s.allowConcurrent {
		if existing, err := s.sessions.ActiveByImpersonator(ctx, impersonatorID); err == nil {
			return Session{}, fmt.Errorf("%w: session %s", ErrSessionActive, existing.ID)
		} else if !errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
	}

	effective := time.Duration(p.DurationMinutes) * time.Minute
	if effective > s.maxDuration {
		effective = s.maxDuration
	}
	now := s.now().UTC()

	session := Session{
		ID:               ids.New(),
		ImpersonatorID:   impersonatorID,
		ImpersonatorRole: role,
		TenantID:         tenantID,
		TargetUserID:     strings.TrimSpace(p.TargetUserID),
		Reason:           reason,
		TicketRef:        strings.TrimSpace(p.TicketRef),
		RequestedBy:      strings.TrimSpace(p.RequestedBy),
		Status:           StatusActive,
		StartedAt:        now,
		ExpiresAt:        now.Add(effective),
		Permissions:      s.permissionTemplate(tenantID),
		Restrictions:     s.restrictionTemplate(tenantID, int64(effective/time.Minute)),
		Client:           p.Client,
	}
	if err := s.sessions.Create(ctx, &session); err != nil {
		return Session{}, err
	}
	obs.SessionsStarted.Inc()

	_, _ = s.Record(ctx, AuditEntry{
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Action:         "session.start",
		ActionType:     ActionSystem,
		Resource:       "session",
		ResourceID:     session.ID,
		Description:    "impersonation session created",
		Success:        true,
		ClientIP:       session.Client.IP,
		UserAgent:      session.Client.UserAgent,
		Metadata: map[string]string{
			"role":       session.ImpersonatorRole,
			"expires_at": session.ExpiresAt.Format(time.RFC3339),
			"ticket_ref": session.TicketRef,
		},
	})

	if s.notifier != nil && s.notifyOnStart {
		_ = s.notifier.SessionStarted(ctx, session)
	}
	return session, nil
}

// GetSession loads a session, applying the lazy expiry transition when the
// clock has passed expires-at.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	session, err := s.sessions.Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return Session{}, err
	}
	if session.Status == StatusActive && s.now().UTC().After(session.ExpiresAt) {
		return s.EndSession(ctx, session.ID, CauseExpired)
	}
	return *session, nil
}

// ActionRequest describes one guarded action proposed under a session.
type ActionRequest struct {
	Action        string
	ActionType    ActionType
	Resource      string
	ResourceID    string
	Description   string
	ApprovalToken string
	Metadata      map[string]string
	Client        ClientInfo
}

// GuardResult is the externally observable outcome of a guarded action.
type GuardResult struct {
	Decision Decision
	Violated *Restriction
	Entry    AuditEntry
}

// Guard runs the restriction enforcer and permission evaluator for one
// proposed action and records the outcome either way. Restriction denials
// take precedence over permission allows. An outcome that cannot be
// recorded fails the action with ErrAuditWriteFailed: no unaudited access.
func (s *Service) Guard(ctx context.Context, sessionID string, req ActionRequest) (GuardResult, error) {
	if strings.TrimSpace(req.Action) == "" || strings.TrimSpace(req.Resource) == "" {
		return GuardResult{}, fmt.Errorf("%w: action and resource are required", ErrInvalidInput)
	}
	if !ValidActionType(req.ActionType) || req.ActionType == ActionSystem {
		return GuardResult{}, fmt.Errorf("%w: unsupported action type %q", ErrInvalidInput, req.ActionType)
	}

	session, err := s.sessions.Find(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return GuardResult{}, err
	}

	if session.Status.IsTerminal() {
		return GuardResult{}, fmt.Errorf("%w: status %s", ErrSessionEnded, session.Status)
	}
	// Expiry is lazy; an active row can outlive expires_at.
	if s.now().UTC().After(session.ExpiresAt) {
		ended, endErr := s.EndSession(ctx, session.ID, CauseExpired)
		if endErr != nil {
			return GuardResult{}, endErr
		}
		denial := Decision{Allowed: false, Reason: "session expired"}
		// Expiry outranks a lost denial record; escalation already happened
		// inside Record.
		entry, _ := s.recordOutcome(ctx, &ended, req, denial)
		obs.GuardedActions.WithLabelValues("expired").Inc()
		return GuardResult{Decision: denial, Entry: entry}, ErrSessionExpired
	}

	if violated := s.enforce(ctx, session, req); violated != nil {
		denial := Decision{Allowed: false, Reason: violated.Description}
		entry, recErr := s.recordOutcome(ctx, session, req, denial)
		if recErr != nil {
			return GuardResult{}, recErr
		}
		obs.GuardedActions.WithLabelValues("restricted").Inc()
		return GuardResult{Decision: denial, Violated: violated, Entry: entry}, nil
	}

	decision := session.Permit(string(req.ActionType), req.Resource)
	entry, recErr := s.recordOutcome(ctx, session, req, decision)
	if recErr != nil {
		return GuardResult{}, recErr
	}
	if decision.Allowed {
		obs.GuardedActions.WithLabelValues("allowed").Inc()
	} else {
		obs.GuardedActions.WithLabelValues("denied").Inc()
	}
	return GuardResult{Decision: decision, Entry: entry}, nil
}

// enforce applies the session-wide restriction set. It returns the first
// violated restriction, or nil when the action may proceed to the
// permission evaluator.
func (s *Service) enforce(ctx context.Context, session *Session, req ActionRequest) *Restriction {
	for i := range session.Restrictions {
		r := session.Restrictions[i]
		if !r.Active {
			continue
		}
		switch r.Type {
		case RestrictionTimeLimit:
			if s.now().UTC().After(session.ExpiresAt) {
				return &r
			}
		case RestrictionResourceLimit:
			if r.Resource != "" && r.Resource == req.Resource {
				return &r
			}
		case RestrictionApprovalRequired:
			gated := r.Resource == string(req.ActionType) || r.Resource == req.Action
			if gated && strings.TrimSpace(req.ApprovalToken) == "" {
				return &r
			}
		case RestrictionActionLimit:
			if r.Value <= 0 {
				continue
			}
			count, err := s.audit.CountActions(ctx, session.ID)
			if err != nil {
				// Fail closed: an unreadable counter blocks the action.
				return &r
			}
			if count >= r.Value {
				return &r
			}
		}
	}
	return nil
}

func (s *Service) recordOutcome(ctx context.Context, session *Session, req ActionRequest, decision Decision) (AuditEntry, error) {
	entry := AuditEntry{
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Action:         req.Action,
		ActionType:     req.ActionType,
		Resource:       req.Resource,
		ResourceID:     req.ResourceID,
		Description:    req.Description,
		Success:        decision.Allowed,
		ClientIP:       req.Client.IP,
		UserAgent:      req.Client.UserAgent,
		Metadata:       req.Metadata,
	}
	if !decision.Allowed {
		entry.ErrorMessage = decision.Reason
	}
	if token := strings.TrimSpace(req.ApprovalToken); token != "" {
		if entry.Metadata == nil {
			entry.Metadata = map[string]string{}
		}
		entry.Metadata["approval_token"] = token
	}
	return s.Record(ctx, entry)
}

// Record appends an audit entry, retrying a bounded number of times on
// storage failure. On exhaustion it escalates to the alert channel and
// returns ErrAuditWriteFailed; it never silently drops the entry.
func (s *Service) Record(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if entry.SessionID == "" {
		return AuditEntry{}, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	if !ValidActionType(entry.ActionType) {
		return AuditEntry{}, fmt.Errorf("%w: unsupported action type %q", ErrInvalidInput, entry.ActionType)
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt <= s.auditRetries; attempt++ {
		if attempt > 0 {
			obs.AuditWriteRetries.Inc()
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(s.auditRetryDelay):
			}
			if ctx.Err() != nil {
				break
			}
		}
		if lastErr = s.audit.Append(ctx, &entry); lastErr == nil {
			if s.sink != nil {
				s.sink(entry)
			}
			return entry, nil
		}
	}

	obs.AuditWriteFailures.Inc()
	if s.alerter != nil {
		s.alerter.Alert(ctx, "audit write lost after retries", map[string]string{
			"session_id": entry.SessionID,
			"action":     entry.Action,
			"resource":   entry.Resource,
			"error":      lastErr.Error(),
		})
	}
	return AuditEntry{}, fmt.Errorf("%w: %v", ErrAuditWriteFailed, lastErr)
}

// EndSession transitions a session to its terminal status. Ending an
// already-ended session is a no-op returning the stored terminal state; the
// final summary entry is emitted exactly once.
func (s *Service) EndSession(ctx context.Context, id string, cause EndCause) (Session, error) {
	status, ok := statusForCause(cause)
	if !ok {
		return Session{}, fmt.Errorf("%w: unsupported end cause %q", ErrInvalidInput, cause)
	}
	id = strings.TrimSpace(id)

	updated, err := s.sessions.Finish(ctx, id, status, s.now().UTC())
	if err != nil {
		return Session{}, err
	}
	session, err := s.sessions.Find(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !updated {
		return *session, nil
	}

	obs.SessionsEnded.WithLabelValues(string(session.Status)).Inc()

	actionCount, countErr := s.audit.CountActions(ctx, session.ID)
	duration := session.ExpiresAt.Sub(session.StartedAt)
	if session.EndedAt != nil {
		duration = session.EndedAt.Sub(session.StartedAt)
	}
	meta := map[string]string{
		"cause":            string(cause),
		"status":           string(session.Status),
		"duration_seconds": strconv.FormatInt(int64(duration/time.Second), 10),
	}
	if countErr == nil {
		meta["action_count"] = strconv.FormatInt(actionCount, 10)
	}
	_, _ = s.Record(ctx, AuditEntry{
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Action:         "session.end",
		ActionType:     ActionSystem,
		Resource:       "session",
		ResourceID:     session.ID,
		Description:    "impersonation session ended",
		Success:        true,
		Metadata:       meta,
	})

	if s.notifier != nil && s.notifyOnEnd {
		_ = s.notifier.SessionEnded(ctx, *session, actionCount)
	}
	return *session, nil
}

// AuditEntries serves the paginated audit query.
func (s *Service) AuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if filter.ActionType != "" && !ValidActionType(filter.ActionType) {
		return nil, fmt.Errorf("%w: unsupported action type %q", ErrInvalidInput, filter.ActionType)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0", ErrInvalidInput)
	}
	return s.audit.List(ctx, filter)
}
