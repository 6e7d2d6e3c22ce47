package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fluxgate/internal/model"
)

type stubUserStore struct {
	users map[string]*model.User
	err   error
}

func (s *stubUserStore) GetUser(ctx context.Context, uid string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.users[uid], nil
}

func TestResolveNoTokenReturnsAnonymous(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.RemoteAddr = "203.0.113.5:54321"

	user, err := Resolve(context.Background(), tokens, &stubUserStore{}, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.Status != model.StatusAnonymous {
		t.Fatalf("status = %v, want anonymous", user.Status)
	}
	if user.UID != model.UIDFromIP("203.0.113.5:54321") {
		t.Fatalf("UID = %q, want derived from remote addr", user.UID)
	}
}

func TestResolveValidTokenLoadsUser(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	want := &model.User{UID: "abcd1234abcd1234", Status: model.StatusPublic}
	token, _, err := tokens.Issue(want)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	store := &stubUserStore{users: map[string]*model.User{want.UID: want}}

	got, err := Resolve(context.Background(), tokens, store, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.UID != want.UID {
		t.Fatalf("UID = %q, want %q", got.UID, want.UID)
	}
}

func TestResolveTokenFromQueryString(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	want := &model.User{UID: "abcd1234abcd1234", Status: model.StatusPublic}
	token, _, _ := tokens.Issue(want)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	store := &stubUserStore{users: map[string]*model.User{want.UID: want}}

	got, err := Resolve(context.Background(), tokens, store, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.UID != want.UID {
		t.Fatalf("UID = %q, want %q", got.UID, want.UID)
	}
}

func TestResolveInvalidTokenRejected(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer garbage")

	_, err := Resolve(context.Background(), tokens, &stubUserStore{}, req)
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestResolveBannedUserRejected(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	banned := &model.User{UID: "deadbeefdeadbeef", Status: model.StatusBanned}
	token, _, _ := tokens.Issue(banned)

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	store := &stubUserStore{users: map[string]*model.User{banned.UID: banned}}

	_, err := Resolve(context.Background(), tokens, store, req)
	if err == nil {
		t.Fatal("expected error for banned user")
	}
}
