package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/v1/impersonation/sessions":            "/v1/impersonation/sessions",
		"/v1/impersonation/sessions/abc":        "/v1/impersonation/sessions/:id",
		"/v1/impersonation/sessions/abc/end":    "/v1/impersonation/sessions/:id/end",
		"/v1/impersonation/sessions/abc/actions": "/v1/impersonation/sessions/:id/actions",
		"/v1/audit":                             "/v1/audit",
		"/v1/audit?limit=10":                    "/v1/audit",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
