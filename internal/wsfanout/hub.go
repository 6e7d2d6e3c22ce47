package wsfanout

import (
	"log/slog"
	"sync"
	"time"

	"fluxgate/internal/logging"
	"fluxgate/internal/model"
)

// IngesterLookup resolves an ingester's declared metadata by name, so the
// hub can gate subscriptions to protected resources. internal/config's
// store satisfies this.
type IngesterLookup interface {
	Ingester(name string) (*model.Ingester, bool)
}

// Hub owns every live connection and the topic→subscribers index. All
// mutation goes through channels (register/unregister) or the mutex-guarded
// subscription index, mirroring the teacher-adjacent register/unregister/
// broadcast pattern in Outblock-flowindex's websocket.go, generalized from a
// single global broadcast channel to per-topic fan-out.
type Hub struct {
	mu            sync.Mutex
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	lookup IngesterLookup
	cache  *payloadCache
	log    *slog.Logger
	now    func() time.Time

	maxClients    int
	clientMaxLife time.Duration

	done chan struct{}
}

// Option configures a Hub at construction time.
type Option func(*Hub)

func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.log = l } }
func WithMaxClients(n int) Option      { return func(h *Hub) { h.maxClients = n } }
func WithClientMaxLifetime(d time.Duration) Option {
	return func(h *Hub) { h.clientMaxLife = d }
}
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

// NewHub constructs a Hub. lookup resolves a topic's backing ingester for
// the protected/sys./admin. authorization gate.
func NewHub(lookup IngesterLookup, opts ...Option) *Hub {
	h := &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		lookup:        lookup,
		log:           logging.Discard(),
		now:           time.Now,
		maxClients:    1000,
		clientMaxLife: 5 * time.Minute,
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.cache = newPayloadCache(time.Second, h.now)
	return h
}

// Run drives client registration/eviction until stop is closed. Call it in
// its own goroutine.
func (h *Hub) Run(stop <-chan struct{}) {
	evictTicker := time.NewTicker(10 * time.Minute)
	lifetimeTicker := time.NewTicker(5 * time.Minute)
	defer evictTicker.Stop()
	defer lifetimeTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case <-evictTicker.C:
			h.evictOverCapacity()
		case <-lifetimeTicker.C:
			h.evictOverLifetime()
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for topic := range c.subscribedTopics() {
		if subs, ok := h.subscriptions[topic]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.subscriptions, topic)
			}
		}
	}
	c.closeSend()
}

// Register admits a newly-upgraded connection.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister evicts a connection (idempotent).
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[*Client]bool)
	}
	h.subscriptions[topic][c] = true
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscriptions[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, topic)
		}
	}
}

// dispatch delivers a delta to every subscriber of topic, filtering fields
// per-subscriber's admin status (via the shared 1s micro-cache) and
// disconnecting any client whose send buffer is full, per spec.md §4.5's
// "disconnect any client whose write fails" rule.
func (h *Hub) dispatch(topic string, fields map[string]any, at time.Time) {
	h.mu.Lock()
	subs := make([]*Client, 0, len(h.subscriptions[topic]))
	for c := range h.subscriptions[topic] {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		admin := c.user != nil && c.user.Status == model.StatusAdmin
		payload := h.cache.filtered(topic, admin, fields)
		msg := dataMsg(topic, payload, at)
		if !c.trySend(msg) {
			h.log.Warn("ws client send buffer full, disconnecting", "topic", topic)
			go h.Unregister(c)
		}
	}
}

func (h *Hub) evictOverCapacity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) <= h.maxClients {
		return
	}
	type aged struct {
		c   *Client
		age time.Time
	}
	all := make([]aged, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, aged{c: c, age: c.connectedAt})
	}
	excess := len(all) - h.maxClients
	for i := 0; i < len(all) && excess > 0; i++ {
		oldest := i
		for j := i + 1; j < len(all); j++ {
			if all[j].age.Before(all[oldest].age) {
				oldest = j
			}
		}
		all[i], all[oldest] = all[oldest], all[i]
		all[i].c.disconnect(1001, "server at capacity")
		excess--
	}
}

func (h *Hub) evictOverLifetime() {
	h.mu.Lock()
	now := h.now()
	expired := make([]*Client, 0)
	for c := range h.clients {
		if now.Sub(c.connectedAt) > h.clientMaxLife {
			expired = append(expired, c)
		}
	}
	h.mu.Unlock()

	for _, c := range expired {
		c.disconnect(1001, "connection lifetime exceeded, please reconnect")
	}
}

// ClientCount returns the number of currently registered clients, for
// introspection/tests.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
