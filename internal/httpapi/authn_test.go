package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"seatgrid.io/internal/tenant"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"  Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Basic abc123", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Errorf("header %q: %v", tc.header, err)
			continue
		}
		if got != tc.want {
			t.Errorf("header %q: got %q want %q", tc.header, got, tc.want)
		}
	}
}

func TestWithTenantResolvesSubdomain(t *testing.T) {
	store := tenant.NewInMemoryStore(
		tenant.Tenant{ID: "tenant-blue", Subdomain: "bluefin", Status: tenant.StatusActive},
		tenant.Tenant{ID: "tenant-frozen", Subdomain: "frozenfork", Status: tenant.StatusSuspended},
	)
	dir, err := tenant.NewDirectory(store, "seatgrid.io")
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	api := &API{tenants: dir}

	var seen tenant.Tenant
	var tagged bool
	handler := RequestID(api.withTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, tagged = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Host = "bluefin.seatgrid.io"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("active tenant host: %d", rr.Code)
	}
	if !tagged || seen.ID != "tenant-blue" {
		t.Fatalf("tenant not attached: %+v", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Host = "frozenfork.seatgrid.io"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("suspended tenant host: expected 403, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Host = "ghost.seatgrid.io"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown tenant host: expected 404, got %d", rr.Code)
	}

	// Apex host passes through untagged
	tagged = false
	req = httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Host = "seatgrid.io"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("apex host: %d", rr.Code)
	}
	if tagged {
		t.Fatal("apex host must not attach a tenant")
	}
}
