package httpapi

import (
	"net/http"
	"strings"
	"time"

	"seatgrid.io/internal/obs"
)

type tokenRequest struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.verifier == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance disabled", "auth_disabled")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required", "invalid_input")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		writeError(w, r, http.StatusBadRequest, "roles are required", "invalid_input")
		return
	}

	token, err := a.verifier.Issue(user, roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed", "internal")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	obs.Log("info", "auth_token_issued", map[string]any{
		"user":       user,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
