package wsfanout

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fluxgate/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one authenticated WebSocket connection and its subscription
// set. All three of the spec's per-connection state maps (topics, user,
// connect-time) live here; mu guards topics, and user and connectedAt are
// fixed at construction.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	user *model.User

	mu     sync.Mutex
	topics map[string]bool

	send        chan outbound
	closeOnce   sync.Once
	connectedAt time.Time
	allow       Allowlist
}

func newClient(hub *Hub, conn *websocket.Conn, user *model.User, allow Allowlist, now time.Time) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		user:        user,
		topics:      make(map[string]bool),
		send:        make(chan outbound, sendBuffer),
		connectedAt: now,
		allow:       allow,
	}
}

func (c *Client) subscribedTopics() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.topics))
	for t := range c.topics {
		out[t] = true
	}
	return out
}

// trySend enqueues msg for the writer goroutine, returning false if the
// client's buffer is full (caller should disconnect it).
func (c *Client) trySend(msg outbound) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Client) disconnect(code int, reason string) {
	c.trySend(disconnectMsg(code, reason))
	c.hub.Unregister(c)
}

// readPump processes inbound client frames until the connection closes.
// Run it in its own goroutine; it returns when the socket errors or closes.
func (c *Client) readPump(limiter SubscribeLimiter, lookup IngesterLookup) {
	defer c.hub.Unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.handle(msg, limiter, lookup)
	}
}

func (c *Client) handle(msg inbound, limiter SubscribeLimiter, lookup IngesterLookup) {
	switch msg.Action {
	case "subscribe":
		c.handleSubscribe(msg.Topics, limiter, lookup)
	case "unsubscribe":
		c.handleUnsubscribe(msg.Topics)
	case "ping":
		c.trySend(pongMsg(time.Now()))
	default:
		c.trySend(errorMsg("unknown action: " + msg.Action))
	}
}

func (c *Client) handleSubscribe(topics []string, limiter SubscribeLimiter, lookup IngesterLookup) {
	if limiter != nil {
		if err := limiter.CheckSubscribe(c.user, len(topics)); err != nil {
			c.trySend(errorMsg(err.Error()))
			return
		}
	}

	var allowed, denied []string
	for _, topic := range topics {
		if err := authorizeTopic(c.user, topic, c.allow, lookup); err != nil {
			denied = append(denied, topic)
			continue
		}
		c.mu.Lock()
		c.topics[topic] = true
		c.mu.Unlock()
		c.hub.subscribe(c, topic)
		allowed = append(allowed, topic)
	}
	if len(denied) > 0 {
		c.trySend(errorMsg("Access denied: [" + strings.Join(denied, ", ") + "]"))
	}
	if len(allowed) > 0 {
		c.trySend(subscribedMsg(allowed))
	}
}

func (c *Client) handleUnsubscribe(topics []string) {
	c.mu.Lock()
	for _, topic := range topics {
		delete(c.topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		c.hub.unsubscribe(c, topic)
	}
	c.trySend(unsubscribedMsg(topics))
}

// writePump drains the send channel to the socket, interleaving periodic
// pings. Run it in its own goroutine; it returns when send is closed or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
