package httpapi

import (
	"net/http"
	"strings"
	"time"

	"seatgrid.io/internal/impersonation"
)

type auditListResponse struct {
	Items     []impersonation.AuditEntry `json:"items"`
	NextAfter string                     `json:"next_after,omitempty"`
	AsOf      time.Time                  `json:"as_of"`
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	filter := impersonation.AuditFilter{
		SessionID:  strings.TrimSpace(r.URL.Query().Get("session_id")),
		ActionType: impersonation.ActionType(strings.TrimSpace(r.URL.Query().Get("action_type"))),
		AfterID:    strings.TrimSpace(r.URL.Query().Get("after")),
		Limit:      limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("success")); raw != "" {
		switch raw {
		case "true":
			success := true
			filter.Success = &success
		case "false":
			success := false
			filter.Success = &success
		default:
			writeError(w, r, http.StatusBadRequest, "success must be true or false", "invalid_input")
			return
		}
	}

	items, err := a.sessions.AuditEntries(r.Context(), filter)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}

	resp := auditListResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	}
	if len(items) == limit {
		resp.NextAfter = items[len(items)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}
