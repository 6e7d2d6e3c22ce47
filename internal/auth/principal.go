package auth

import (
	"context"
	"net/http"
	"strings"

	"fluxgate/internal/apperr"
	"fluxgate/internal/model"
)

// UserStore resolves a verified principal's full record (status, rate-limit
// caps, cumulative counters) by UID. internal/config's user store satisfies
// this; tests may use a map-backed stub.
type UserStore interface {
	GetUser(ctx context.Context, uid string) (*model.User, error)
}

// BearerToken extracts a bearer token from a request: the Authorization
// header takes precedence, falling back to the "token" query parameter so a
// WebSocket client (which cannot set headers from a browser) can authenticate
// on the connect URL, per spec.md §4.5.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

// Resolve determines the requesting principal: a bearer token verified
// against tokens and looked up in store, or, absent a usable token, an
// anonymous user derived from the client IP. It never returns an error for a
// missing token — only for a malformed/expired one, a token whose user is
// unknown or banned, or a store failure — since anonymous access is itself a
// valid outcome.
func Resolve(ctx context.Context, tokens *TokenService, store UserStore, r *http.Request) (*model.User, error) {
	token := BearerToken(r)
	if token == "" {
		return anonymousUser(r), nil
	}

	claims, err := tokens.Verify(token)
	if err != nil {
		return nil, apperr.NewAuthError("invalid or expired token")
	}

	user, err := store.GetUser(ctx, claims.UID)
	if err != nil {
		return nil, apperr.NewTransientBackendError("auth: load user", err)
	}
	if user == nil {
		return nil, apperr.NewAuthError("unknown principal")
	}
	if user.Status == model.StatusBanned {
		return nil, apperr.NewAuthError("principal is banned")
	}
	return user, nil
}

func anonymousUser(r *http.Request) *model.User {
	addr := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		addr, _, _ = strings.Cut(fwd, ",")
	}
	return &model.User{UID: model.UIDFromIP(addr), Status: model.StatusAnonymous}
}
