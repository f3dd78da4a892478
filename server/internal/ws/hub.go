package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventChange   = cache.DidChangeEvent
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Data  any    `json:"data"`
}

// SnapshotData is the payload of a snapshot message.
type SnapshotData struct {
	Cache       string       `json:"cache"`
	GeneratedAt time.Time    `json:"generated_at"`
	Items       []store.Item `json:"items"`
}

// ChangeData is the payload of a cache.did_change message.
type ChangeData struct {
	Cache   string                  `json:"cache"`
	Seq     uint64                  `json:"seq"`
	At      time.Time               `json:"at"`
	Updated map[string]*store.Entry `json:"updated"`
	Removed []string                `json:"removed"`
}

// Source provides the current contents sent to a client on connect.
type Source interface {
	Name() string
	List(ctx context.Context) []store.Item
}

// Hub manages WebSocket client connections. It is a cache.Publisher: every
// change the store publishes is broadcast to all connected clients.
type Hub struct {
	mu      sync.RWMutex
	src     Source
	clients map[*client]struct{}
	closed  bool
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub. Call SetSource before serving clients; until then a
// connecting client receives an empty snapshot.
func New() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// SetSource sets where connect-time snapshots are read from. The store
// needs the hub as its Publisher at construction, so the two are wired in
// two steps.
func (h *Hub) SetSource(src Source) {
	h.mu.Lock()
	h.src = src
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then closes all active connections and
// rejects new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish broadcasts ch to every connected client. Clients whose outgoing
// buffer is full are disconnected.
func (h *Hub) Publish(_ context.Context, ch cache.Change[string, *store.Entry]) {
	removed := ch.Removed
	if removed == nil {
		removed = []string{}
	}
	data, err := json.Marshal(Message{
		Event: EventChange,
		ID:    uuid.NewString(),
		Data: ChangeData{
			Cache:   ch.Cache,
			Seq:     ch.Seq,
			At:      ch.At,
			Updated: ch.Updated,
			Removed: removed,
		},
	})
	if err != nil {
		slog.Error("ws: encode change", "err", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The current contents are sent immediately on connect, then every change.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if !h.register(r.Context(), c) {
		conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// register adds c and queues its initial snapshot under the same lock, so
// no change broadcast can reach c ahead of the snapshot.
func (h *Hub) register(ctx context.Context, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if data, err := h.buildSnapshot(ctx); err == nil {
		c.send <- data
	} else {
		slog.Error("ws: encode snapshot", "err", err)
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

// buildSnapshot must be called with h.mu held.
func (h *Hub) buildSnapshot(ctx context.Context) ([]byte, error) {
	snap := SnapshotData{GeneratedAt: time.Now().UTC(), Items: []store.Item{}}
	if h.src != nil {
		snap.Cache = h.src.Name()
		snap.Items = h.src.List(ctx)
	}
	return json.Marshal(Message{Event: EventSnapshot, ID: uuid.NewString(), Data: snap})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub is shutting down or the client was dropped.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
