package impersonation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *InMemoryStore, *fakeClock) {
	t.Helper()
	store := NewInMemoryStore()
	clock := newFakeClock()
	base := []Option{
		WithClock(clock.Now),
		WithAuditRetry(2, 0),
	}
	svc, err := NewService(store, store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clock
}

func startParams() StartParams {
	return StartParams{
		ImpersonatorID:   "admin-1",
		ImpersonatorRole: "SUPPORT",
		TenantID:         "tenant-1",
		Reason:           "Customer reported booking issues - investigating duplicate reservations",
		DurationMinutes:  120,
		Client:           ClientInfo{IP: "10.1.2.3", UserAgent: "support-console"},
	}
}

func TestStartSessionSnapshot(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.Status != StatusActive {
		t.Fatalf("expected active status, got %s", session.Status)
	}
	if want := clock.Now().Add(120 * time.Minute); !session.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at=%v, want %v", session.ExpiresAt, want)
	}
	if len(session.Permissions) != len(DefaultPermissions(session.TenantID)) {
		t.Fatalf("permission snapshot does not match template: %d entries", len(session.Permissions))
	}
	if len(session.Restrictions) != len(DefaultRestrictions(session.TenantID, 120)) {
		t.Fatalf("restriction snapshot does not match template: %d entries", len(session.Restrictions))
	}

	entries, err := svc.AuditEntries(ctx, AuditFilter{SessionID: session.ID})
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].ActionType != ActionSystem || entries[0].Action != "session.start" {
		t.Fatalf("expected one system start entry, got %+v", entries)
	}
}

func TestStartSessionValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p := startParams()
	p.ImpersonatorRole = "WAITER"
	if _, err := svc.StartSession(ctx, p); !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("expected ErrRoleNotAllowed, got %v", err)
	}

	p = startParams()
	p.Reason = "too short"
	if _, err := svc.StartSession(ctx, p); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}

	p = startParams()
	p.DurationMinutes = 600
	if _, err := svc.StartSession(ctx, p); !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("expected ErrDurationOutOfRange, got %v", err)
	}
	p.DurationMinutes = 3
	if _, err := svc.StartSession(ctx, p); !errors.Is(err, ErrDurationOutOfRange) {
		t.Fatalf("expected ErrDurationOutOfRange for short duration, got %v", err)
	}
}

func TestStartSessionRejectsConcurrentByDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, startParams()); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if _, err := svc.StartSession(ctx, startParams()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	relaxed, store, _ := newTestService(t, WithConcurrentSessions(true))
	_ = store
	if _, err := relaxed.StartSession(ctx, startParams()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	second := startParams()
	second.TenantID = "tenant-2"
	if _, err := relaxed.StartSession(ctx, second); err != nil {
		t.Fatalf("concurrent sessions should be allowed when configured: %v", err)
	}
}

func TestPermitFailClosed(t *testing.T) {
	session := Session{Permissions: DefaultPermissions("tenant-1")}

	if d := session.Permit("view", "bookings"); !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	if d := session.Permit("view", "reviews"); d.Allowed || d.Reason != "no explicit grant" {
		t.Fatalf("expected fail-closed denial, got %+v", d)
	}
	if d := session.Permit("delete", "bookings"); d.Allowed || d.Reason != "Requires manager approval" {
		t.Fatalf("expected snapshot denial with reason, got %+v", d)
	}
}

func TestGuardAllowsAndRecords(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Guard(ctx, session.ID, ActionRequest{
		Action:     "view",
		ActionType: ActionView,
		Resource:   "bookings",
	})
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if !res.Decision.Allowed {
		t.Fatalf("expected allow, got %+v", res.Decision)
	}
	if res.Entry.ID == "" || !res.Entry.Success {
		t.Fatalf("expected successful audit entry, got %+v", res.Entry)
	}
}

func TestGuardResourceLimitPrecedesPermission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	// financials has both a deny permission and an active resource_limit;
	// the restriction must answer first.
	res, err := svc.Guard(ctx, session.ID, ActionRequest{
		Action:     "view",
		ActionType: ActionView,
		Resource:   "financials",
	})
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if res.Decision.Allowed {
		t.Fatal("expected denial")
	}
	if res.Violated == nil || res.Violated.Type != RestrictionResourceLimit {
		t.Fatalf("expected resource_limit violation, got %+v", res.Violated)
	}
}

func TestGuardDeleteGovernedIndependently(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	// The financial resource_limit is unrelated to bookings; delete/bookings
	// with an approval token falls through to its own permission entry.
	res, err := svc.Guard(ctx, session.ID, ActionRequest{
		Action:        "delete",
		ActionType:    ActionDelete,
		Resource:      "bookings",
		ApprovalToken: "appr-123",
	})
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if res.Decision.Allowed {
		t.Fatal("expected denial")
	}
	if res.Violated != nil {
		t.Fatalf("denial should come from the permission snapshot, got restriction %+v", res.Violated)
	}
	if res.Decision.Reason != "Requires manager approval" {
		t.Fatalf("unexpected reason: %s", res.Decision.Reason)
	}
	if res.Entry.Success || res.Entry.ErrorMessage == "" {
		t.Fatalf("denial must be audited with success=false, got %+v", res.Entry)
	}
}

func TestGuardApprovalRequired(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Guard(ctx, session.ID, ActionRequest{
		Action:     "delete",
		ActionType: ActionDelete,
		Resource:   "bookings",
	})
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if res.Violated == nil || res.Violated.Type != RestrictionApprovalRequired {
		t.Fatalf("expected approval_required violation, got %+v", res.Violated)
	}
}

func TestGuardActionLimit(t *testing.T) {
	limited := func(tenantID string, maxMinutes int64) []Restriction {
		return []Restriction{
			{Type: RestrictionActionLimit, Description: "At most 2 guarded actions per session", Value: 2, Active: true},
		}
	}
	svc, _, _ := newTestService(t)
	svc.restrictionTemplate = limited
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	req := ActionRequest{Action: "view", ActionType: ActionView, Resource: "bookings"}
	for i := 0; i < 2; i++ {
		res, err := svc.Guard(ctx, session.ID, req)
		if err != nil || !res.Decision.Allowed {
			t.Fatalf("action %d should be allowed: %v %+v", i, err, res.Decision)
		}
	}
	res, err := svc.Guard(ctx, session.ID, req)
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if res.Decision.Allowed {
		t.Fatal("expected action limit denial")
	}
	if res.Violated == nil || res.Violated.Type != RestrictionActionLimit {
		t.Fatalf("expected action_limit violation, got %+v", res.Violated)
	}

	// Successful non-system entries never exceed the limit value.
	success := true
	entries, err := svc.AuditEntries(ctx, AuditFilter{SessionID: session.ID, Success: &success})
	if err != nil {
		t.Fatal(err)
	}
	var nonSystem int64
	for _, e := range entries {
		if e.ActionType != ActionSystem {
			nonSystem++
		}
	}
	if nonSystem > 2 {
		t.Fatalf("successful action count %d exceeds limit", nonSystem)
	}
}

func TestGuardLazyExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(121 * time.Minute)

	res, err := svc.Guard(ctx, session.ID, ActionRequest{
		Action:     "view",
		ActionType: ActionView,
		Resource:   "bookings",
	})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if res.Decision.Allowed {
		t.Fatal("expected denial")
	}

	stored, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusExpired {
		t.Fatalf("expected lazy transition to expired, got %s", stored.Status)
	}
	if stored.EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.EndSession(ctx, session.ID, CauseManual)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if first.Status != StatusCompleted || first.EndedAt == nil {
		t.Fatalf("unexpected terminal state: %+v", first)
	}

	second, err := svc.EndSession(ctx, session.ID, CauseManual)
	if err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	if second.Status != first.Status || !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("idempotence violated: %+v != %+v", second, first)
	}

	// A forced termination after completion must not move the status.
	third, err := svc.EndSession(ctx, session.ID, CauseError)
	if err != nil {
		t.Fatal(err)
	}
	if third.Status != StatusCompleted {
		t.Fatalf("terminal status changed: %s", third.Status)
	}

	entries, err := svc.AuditEntries(ctx, AuditFilter{SessionID: session.ID})
	if err != nil {
		t.Fatal(err)
	}
	var ends int
	for _, e := range entries {
		if e.Action == "session.end" {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected exactly one end entry, got %d", ends)
	}
}

func TestEndSessionCauses(t *testing.T) {
	cases := map[EndCause]SessionStatus{
		CauseManual:  StatusCompleted,
		CauseExpired: StatusExpired,
		CauseError:   StatusTerminated,
	}
	for cause, want := range cases {
		svc, _, _ := newTestService(t)
		ctx := context.Background()
		session, err := svc.StartSession(ctx, startParams())
		if err != nil {
			t.Fatal(err)
		}
		ended, err := svc.EndSession(ctx, session.ID, cause)
		if err != nil {
			t.Fatalf("EndSession(%s): %v", cause, err)
		}
		if ended.Status != want {
			t.Fatalf("cause %s: status %s, want %s", cause, ended.Status, want)
		}
	}
}

func TestRecordOrderingAndIndependence(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.Record(ctx, AuditEntry{
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Action:         "view",
		ActionType:     ActionView,
		Resource:       "bookings",
		Success:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	second, err := svc.Record(ctx, AuditEntry{
		SessionID:      session.ID,
		ImpersonatorID: session.ImpersonatorID,
		TenantID:       session.TenantID,
		Action:         "update",
		ActionType:     ActionUpdate,
		Resource:       "bookings",
		Success:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("entries must be independently identified")
	}

	entries, err := svc.AuditEntries(ctx, AuditFilter{SessionID: session.ID, ActionType: ActionView})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != first.ID {
		t.Fatalf("filter by action type failed: %+v", entries)
	}

	all, err := svc.AuditEntries(ctx, AuditFilter{SessionID: session.ID})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

type captureAlerter struct {
	mu    sync.Mutex
	calls int
}

func (a *captureAlerter) Alert(ctx context.Context, msg string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
}

func TestRecordRetriesThenEscalates(t *testing.T) {
	alerter := &captureAlerter{}
	svc, store, _ := newTestService(t, WithAlerter(alerter))
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	// One transient failure: the retry succeeds and nothing escalates.
	store.FailNextAppends(1, errors.New("connection reset"))
	if _, err := svc.Record(ctx, AuditEntry{
		SessionID: session.ID, Action: "view", ActionType: ActionView, Resource: "bookings", Success: true,
	}); err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if alerter.calls != 0 {
		t.Fatalf("unexpected escalation: %d", alerter.calls)
	}

	// Persistent failure: bounded retries then escalation.
	store.FailNextAppends(10, errors.New("disk full"))
	_, err = svc.Record(ctx, AuditEntry{
		SessionID: session.ID, Action: "view", ActionType: ActionView, Resource: "bookings", Success: true,
	})
	if !errors.Is(err, ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	if alerter.calls != 1 {
		t.Fatalf("expected one escalation, got %d", alerter.calls)
	}
}

func TestGuardFailsClosedWhenAuditUnavailable(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	// Three failures exhaust the initial attempt plus both retries.
	store.FailNextAppends(3, errors.New("disk full"))
	result, err := svc.Guard(ctx, session.ID, ActionRequest{
		Action:     "booking.update",
		ActionType: ActionUpdate,
		Resource:   "bookings",
	})
	if !errors.Is(err, ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	// No trail, no action: the caller must not see a result it could act on.
	if result.Entry.ID != "" || result.Decision.Allowed {
		t.Fatalf("expected zero result for unrecorded action, got %+v", result)
	}

	// The session survives and the next action records normally.
	result, err = svc.Guard(ctx, session.ID, ActionRequest{
		Action:     "booking.update",
		ActionType: ActionUpdate,
		Resource:   "bookings",
	})
	if err != nil {
		t.Fatalf("Guard after recovery: %v", err)
	}
	if !result.Decision.Allowed || result.Entry.ID == "" {
		t.Fatalf("expected recorded allowed action, got %+v", result)
	}
}

func TestConcurrentRecords(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.StartSession(ctx, startParams())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	N := 40
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Record(ctx, AuditEntry{
				SessionID:  session.ID,
				Action:     "view",
				ActionType: ActionView,
				Resource:   "bookings",
				Success:    true,
			})
		}()
	}
	wg.Wait()

	count, err := svc.audit.CountActions(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != int64(N) {
		t.Fatalf("expected %d entries, got %d", N, count)
	}
}

type downTenants struct{}

func (downTenants) CheckActive(ctx context.Context, tenantID string) error {
	return errors.New("suspended")
}

func TestStartSessionTenantUnavailable(t *testing.T) {
	svc, _, _ := newTestService(t, WithTenantDirectory(downTenants{}))
	if _, err := svc.StartSession(context.Background(), startParams()); !errors.Is(err, ErrTenantUnavailable) {
		t.Fatalf("expected ErrTenantUnavailable, got %v", err)
	}
}
