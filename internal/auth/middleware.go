package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"fluxgate/internal/apperr"
	"fluxgate/internal/model"
)

// httpError is the JSON shape written for a rejected request.
type httpError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	if d := apperr.RetryAfter(err); d > 0 {
		secs := int(d.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(httpError{Error: err.Error()})
}

// Middleware resolves the requesting principal (bearer token → JWT verify →
// user; else IP → anonymous) per spec.md §4.5 and attaches it to the request
// context for downstream handlers. It rejects outright only on a malformed
// or expired token, an unknown or banned principal, or a user-store failure;
// a missing token simply resolves to an anonymous user.
func Middleware(tokens *TokenService, store UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := Resolve(r.Context(), tokens, store, r)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin rejects any request whose resolved principal is not an
// admin. It must run downstream of Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil || user.Status != model.StatusAdmin {
			writeError(w, apperr.NewAuthError("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
