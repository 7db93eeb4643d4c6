package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"seatgrid.io/internal/auth"
	"seatgrid.io/internal/impersonation"
	"seatgrid.io/internal/obs"
	"seatgrid.io/internal/stream"
	"seatgrid.io/internal/tenant"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the impersonation service.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions *impersonation.Service
	tenants  *tenant.Directory
	verifier *auth.Verifier
	stream   *stream.Stream
	csrf     *csrfSigner

	rateBurst   int
	ratePerSec  int
	maxBody     int64
	requireCSRF bool
}

func New(rp ReadyProbe, version string, svc *impersonation.Service, verifier *auth.Verifier, tenants *tenant.Directory, st *stream.Stream, csrfSecret string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		sessions:   svc,
		tenants:    tenants,
		verifier:   verifier,
		stream:     st,
		csrf:       newCSRFSigner(csrfSecret),
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/csrf", a.handleCSRFToken)

	a.mux.HandleFunc("/v1/impersonation/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/impersonation/sessions/", a.handleSessionResource)

	a.mux.HandleFunc("/v1/audit", a.handleAuditList)
	a.mux.HandleFunc("/v1/audit/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the per-IP limiter parameters. Call before Handler.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// SetRequireCSRF toggles CSRF validation on mutating session endpoints.
func (a *API) SetRequireCSRF(require bool) {
	a.requireCSRF = require
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = a.withTenant(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
