package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T, opts ...VerifierOption) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret", opts...)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestIssueAndVerify(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue("user-1", []string{"support", "SUPPORT", "admin"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "SUPPORT" || claims.Roles[1] != "ADMIN" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatal("expected jti claim")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issued := time.Now().UTC()
	v := newTestVerifier(t, WithClock(func() time.Time { return issued }))

	token, err := v.Issue("user-1", []string{"support"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	late, err := NewVerifier("test-secret", WithClock(func() time.Time {
		return issued.Add(2 * time.Minute)
	}))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := late.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("user-1", []string{"support"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewVerifier("another-secret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := other.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue("user-1", []string{"support"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := v.Verify(tampered); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "user-7", []string{"support", "owner"})

	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %q ok=%v", id, ok)
	}
	if !HasRole(ctx, "SUPPORT") || !HasRole(ctx, "support") {
		t.Fatal("expected SUPPORT role")
	}
	if HasRole(ctx, "ADMIN") {
		t.Fatal("unexpected ADMIN role")
	}
	if PrimaryRole(ctx) != "SUPPORT" {
		t.Fatalf("unexpected primary role: %s", PrimaryRole(ctx))
	}
}
