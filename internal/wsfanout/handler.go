package wsfanout

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fluxgate/internal/auth"
	"fluxgate/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns the /ws endpoint: resolve the principal, upgrade the
// connection, and hand it to the hub, per spec.md §4.5's connect-time
// authorization step.
func Handler(hub *Hub, tokens *auth.TokenService, store auth.UserStore, limiter SubscribeLimiter, lookup IngesterLookup, allow Allowlist, log *slog.Logger) http.HandlerFunc {
	log = logging.Default(log)
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.Resolve(r.Context(), tokens, store, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", "err", err)
			return
		}

		c := newClient(hub, conn, user, allow, time.Now())
		hub.Register(c)

		go c.writePump()
		c.readPump(limiter, lookup)
	}
}
