package auth

import (
	"testing"
	"time"

	"fluxgate/internal/model"
)

func TestIssueAndVerify(t *testing.T) {
	ts := NewTokenService([]byte("test-secret-key-for-testing-only"), 7*24*time.Hour)
	user := &model.User{UID: "0123456789abcdef", Status: model.StatusAdmin}

	token, expiresAt, err := ts.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if expiresAt.Before(time.Now()) {
		t.Error("expected expiration in the future")
	}

	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UID != user.UID {
		t.Errorf("UID: expected %q, got %q", user.UID, claims.UID)
	}
	if claims.Status != model.StatusAdmin {
		t.Errorf("Status: expected admin, got %q", claims.Status)
	}
	if claims.Subject != user.UID {
		t.Errorf("Subject: expected %q, got %q", user.UID, claims.Subject)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), -1*time.Hour)

	token, _, err := ts.Issue(&model.User{UID: "fedcba9876543210", Status: model.StatusPublic})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = ts.Verify(token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	ts1 := NewTokenService([]byte("secret-one"), 7*24*time.Hour)
	ts2 := NewTokenService([]byte("secret-two"), 7*24*time.Hour)

	token, _, err := ts1.Issue(&model.User{UID: "aaaaaaaaaaaaaaaa", Status: model.StatusPublic})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = ts2.Verify(token)
	if err == nil {
		t.Fatal("expected error verifying with wrong secret")
	}
}

func TestVerifyInvalidToken(t *testing.T) {
	ts := NewTokenService([]byte("secret"), 7*24*time.Hour)

	_, err := ts.Verify("not-a-valid-token")
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
}
