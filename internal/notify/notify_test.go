package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"seatgrid.io/internal/impersonation"
)

func TestWebhookSessionStarted(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	session := impersonation.Session{
		ID:             "sess-1",
		ImpersonatorID: "admin-1",
		TenantID:       "tenant-1",
		Reason:         "Investigating duplicate reservations",
		Status:         impersonation.StatusActive,
		ExpiresAt:      time.Now().UTC().Add(time.Hour),
	}
	if err := hook.SessionStarted(context.Background(), session); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}
	if received.Kind != "session.started" || received.SessionID != "sess-1" {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := hook.SessionEnded(context.Background(), impersonation.Session{ID: "sess-2"}, 3); err == nil {
		t.Fatal("expected delivery error")
	}
}
