package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fluxgate/internal/model"
)

func TestMiddlewareAttachesResolvedUser(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	user := &model.User{UID: "abcd1234abcd1234", Status: model.StatusPublic}
	token, _, _ := tokens.Issue(user)
	store := &stubUserStore{users: map[string]*model.User{user.UID: user}}

	var seen *model.User
	handler := Middleware(tokens, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.UID != user.UID {
		t.Fatalf("expected resolved user %v in context, got %v", user, seen)
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	tokens := NewTokenService([]byte("secret"), time.Hour)
	handler := Middleware(tokens, &stubUserStore{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAdminRejectsPublicUser(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req = req.WithContext(WithUser(req.Context(), &model.User{UID: "x", Status: model.StatusPublic}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	reached := false
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req = req.WithContext(WithUser(req.Context(), &model.User{UID: "x", Status: model.StatusAdmin}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("expected admin to reach handler, code=%d reached=%v", rec.Code, reached)
	}
}
