package feed

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/community-tips/internal/tips"
	"github.com/example/community-tips/internal/types"
)

// MessageTypeTips tags a full collection snapshot.
const MessageTypeTips = "tips"

// Message is the only frame the feed sends.
type Message struct {
	Type string      `json:"type"`
	Tips []types.Tip `json:"tips"`
}

// Source is the engine surface the hub needs.
type Source interface {
	Tips() []types.Tip
	Subscribe(listener tips.Listener) func()
}

// Config controls websocket behaviour.
type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatTolerance int
	SendBuffer         int
	WriteTimeout       time.Duration
	// AllowedOrigins empty accepts any origin.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTolerance <= 0 {
		c.HeartbeatTolerance = 2
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Hub fans every engine change out to connected websocket clients as a
// read-only snapshot of the collection.
type Hub struct {
	source   Source
	logger   zerolog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*client]struct{}
	latest      []byte
	unsubscribe func()
	closed      bool
}

// NewHub constructs a hub over the engine.
func NewHub(source Source, logger zerolog.Logger, cfg Config) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		source:  source,
		logger:  logger,
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start subscribes the hub to engine changes.
func (h *Hub) Start() {
	unsubscribe := h.source.Subscribe(func(change types.Change) {
		h.Broadcast(change.Snapshot)
	})
	h.mu.Lock()
	h.unsubscribe = unsubscribe
	h.mu.Unlock()
}

// Close unsubscribes and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutdown")
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a snapshot to every client and returns how many accepted it.
func (h *Hub) Broadcast(snapshot []types.Tip) int {
	payload, err := Encode(snapshot)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode feed snapshot")
		return 0
	}

	// Recording the frame and picking recipients under one lock means a client
	// registered afterwards starts from this frame and receives every later one.
	h.mu.Lock()
	h.latest = payload
	recipients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		recipients = append(recipients, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range recipients {
		if err := c.enqueue(payload); err == nil {
			sent++
		}
	}
	broadcasts.Inc()
	return sent
}

// ServeHTTP upgrades the request and streams snapshots until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "feed.upgrade")
	start := time.Now()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	upgradeLatency.Observe(time.Since(start).Seconds())
	span.End()
	if err != nil {
		h.logger.Debug().Err(err).Msg("feed upgrade failed")
		return
	}

	c := newClient(conn, h.cfg, h.logger.With().Str("remote", r.RemoteAddr).Logger(), h.remove)
	if err := h.add(c); err != nil {
		c.close(websocket.CloseGoingAway, "server shutdown")
		return
	}
	c.run()
}

// add registers c and queues the current collection as its first frame.
func (h *Hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("feed hub closed")
	}
	initial := h.latest
	if initial == nil {
		initial = mustEncode(h.source.Tips())
	}
	// The send buffer is fresh and never smaller than one frame.
	c.send <- initial
	h.clients[c] = struct{}{}
	connections.Set(float64(len(h.clients)))
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	connections.Set(float64(len(h.clients)))
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Encode renders a snapshot frame.
func Encode(snapshot []types.Tip) ([]byte, error) {
	if snapshot == nil {
		snapshot = []types.Tip{}
	}
	return json.Marshal(Message{Type: MessageTypeTips, Tips: snapshot})
}

func mustEncode(snapshot []types.Tip) []byte {
	payload, err := Encode(snapshot)
	if err != nil {
		return []byte(`{"type":"tips","tips":[]}`)
	}
	return payload
}
