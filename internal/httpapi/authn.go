package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"seatgrid.io/internal/auth"
	"seatgrid.io/internal/tenant"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error(), "unauthorized")
			return
		}

		claims, err := a.verifier.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token", "unauthorized")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error", "internal")
			}
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withTenant resolves the tenant from the request host. Requests to the
// apex domain pass through untagged; an unknown subdomain is a 404, a
// suspended tenant a 403.
func (a *API) withTenant(next http.Handler) http.Handler {
	if a.tenants == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.tenants.SubdomainFromHost(r.Host); !ok {
			next.ServeHTTP(w, r)
			return
		}
		t, err := a.tenants.ResolveHost(r.Context(), r.Host)
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "unknown tenant", "tenant_not_found")
			return
		case err != nil:
			writeError(w, r, http.StatusInternalServerError, "tenant lookup failed", "internal")
			return
		}
		if t.Status == tenant.StatusSuspended {
			writeError(w, r, http.StatusForbidden, "tenant is suspended", "tenant_suspended")
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.ContextWithTenant(r.Context(), t)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
