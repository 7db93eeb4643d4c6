package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"seatgrid.io/internal/auth"
	"seatgrid.io/internal/impersonation"
	"seatgrid.io/internal/tenant"
)

type createSessionRequest struct {
	TenantID        string `json:"tenant_id"`
	TargetUserID    string `json:"target_user_id"`
	Reason          string `json:"reason"`
	TicketRef       string `json:"ticket_ref"`
	RequestedBy     string `json:"requested_by"`
	DurationMinutes int    `json:"duration_minutes"`
}

type endSessionRequest struct {
	Cause string `json:"cause"`
}

type actionRequest struct {
	Action        string            `json:"action"`
	ActionType    string            `json:"action_type"`
	Resource      string            `json:"resource"`
	ResourceID    string            `json:"resource_id"`
	Description   string            `json:"description"`
	ApprovalToken string            `json:"approval_token"`
	Metadata      map[string]string `json:"metadata"`
}

type actionResponse struct {
	Decision impersonation.Decision     `json:"decision"`
	Violated *impersonation.Restriction `json:"violated,omitempty"`
	Entry    impersonation.AuditEntry   `json:"entry"`
}

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createSession(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/impersonation/sessions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found", "not_found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/end"); ok && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.endSession(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/actions"); ok && id != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.performAction(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found", "not_found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getSession(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	if a.requireCSRF && !a.validCSRF(r) {
		writeError(w, r, http.StatusForbidden, "missing or invalid CSRF token", "csrf_invalid")
		return
	}

	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	impersonatorID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required", "unauthorized")
		return
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if t, ok := tenant.FromContext(r.Context()); ok {
		if tenantID != "" && tenantID != t.ID {
			writeError(w, r, http.StatusBadRequest, "tenant_id does not match request host", "invalid_input")
			return
		}
		tenantID = t.ID
	}
	if tenantID == "" {
		writeError(w, r, http.StatusBadRequest, "tenant_id is required", "invalid_input")
		return
	}

	session, err := a.sessions.StartSession(r.Context(), impersonation.StartParams{
		ImpersonatorID:   impersonatorID,
		ImpersonatorRole: auth.PrimaryRole(r.Context()),
		TenantID:         tenantID,
		TargetUserID:     strings.TrimSpace(req.TargetUserID),
		Reason:           req.Reason,
		TicketRef:        strings.TrimSpace(req.TicketRef),
		RequestedBy:      strings.TrimSpace(req.RequestedBy),
		DurationMinutes:  req.DurationMinutes,
		Client: impersonation.ClientInfo{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		handleSessionError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/impersonation/sessions/"+session.ID)
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request, id string) {
	session, err := a.sessions.GetSession(r.Context(), id)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) endSession(w http.ResponseWriter, r *http.Request, id string) {
	if a.requireCSRF && !a.validCSRF(r) {
		writeError(w, r, http.StatusForbidden, "missing or invalid CSRF token", "csrf_invalid")
		return
	}

	cause := impersonation.CauseManual
	if r.ContentLength != 0 {
		var req endSessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
			return
		}
		switch strings.TrimSpace(req.Cause) {
		case "", string(impersonation.CauseManual):
			cause = impersonation.CauseManual
		case string(impersonation.CauseError):
			cause = impersonation.CauseError
		default:
			writeError(w, r, http.StatusBadRequest, "unsupported end cause", "invalid_input")
			return
		}
	}

	session, err := a.sessions.EndSession(r.Context(), id, cause)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) performAction(w http.ResponseWriter, r *http.Request, id string) {
	if a.requireCSRF && !a.validCSRF(r) {
		writeError(w, r, http.StatusForbidden, "missing or invalid CSRF token", "csrf_invalid")
		return
	}

	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeError(w, r, http.StatusBadRequest, "action is required", "invalid_input")
		return
	}

	result, err := a.sessions.Guard(r.Context(), id, impersonation.ActionRequest{
		Action:        strings.TrimSpace(req.Action),
		ActionType:    impersonation.ActionType(req.ActionType),
		Resource:      strings.TrimSpace(req.Resource),
		ResourceID:    strings.TrimSpace(req.ResourceID),
		Description:   req.Description,
		ApprovalToken: req.ApprovalToken,
		Metadata:      req.Metadata,
		Client: impersonation.ClientInfo{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		handleSessionError(w, r, err)
		return
	}

	resp := actionResponse{
		Decision: result.Decision,
		Violated: result.Violated,
		Entry:    result.Entry,
	}
	if !result.Decision.Allowed {
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, impersonation.ErrInvalidInput),
		errors.Is(err, impersonation.ErrInvalidReason),
		errors.Is(err, impersonation.ErrDurationOutOfRange):
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
	case errors.Is(err, impersonation.ErrRoleNotAllowed):
		writeError(w, r, http.StatusForbidden, err.Error(), "role_not_allowed")
	case errors.Is(err, impersonation.ErrSessionActive):
		writeError(w, r, http.StatusConflict, err.Error(), "session_active")
	case errors.Is(err, impersonation.ErrSessionEnded):
		writeError(w, r, http.StatusConflict, err.Error(), "session_ended")
	case errors.Is(err, impersonation.ErrSessionExpired):
		writeError(w, r, http.StatusGone, err.Error(), "session_expired")
	case errors.Is(err, impersonation.ErrTenantUnavailable):
		writeError(w, r, http.StatusConflict, err.Error(), "tenant_unavailable")
	case errors.Is(err, impersonation.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, impersonation.ErrAuditWriteFailed):
		writeError(w, r, http.StatusServiceUnavailable, "audit trail unavailable", "audit_unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error", "internal")
	}
}
