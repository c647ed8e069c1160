// Package opui is the operator-facing read-only surface named in §6: for every
// swap, push its current state and the action set the operator may sign and
// broadcast. It never accepts a write back from the browser — Accept/Decline and
// every signed transaction go through internal/rpc instead; opui only observes.
package opui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/swapid"
	"github.com/comit-node/rfc003/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SwapView is what a connected operator sees for one swap: enough to render the
// negotiation/lifecycle status and the currently-legal actions, without handing
// over the full generically-typed State (whose concrete type parameters a
// browser client has no use for).
type SwapView struct {
	ID        swapid.ID       `json:"id"`
	Role      string          `json:"role"`
	Kind      string          `json:"kind"`
	Actions   []string        `json:"actions"`
	UpdatedAt int64           `json:"updated_at"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// Hub fans out SwapView updates to every connected operator client. It carries a
// single event kind (swap updates) rather than a general subscription model — an
// operator UI has no use for peer-connection or node-status events.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan SwapView
	register   chan *client
	unregister chan *client
	log        *logging.Logger
	mu         sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan SwapView, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        logging.GetDefault().Component("opui"),
	}
}

// Run drives the hub; call it once in its own goroutine before ServeHTTP
// accepts connections.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("operator connected", "clients", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("operator disconnected", "clients", len(h.clients))

		case view := <-h.broadcast:
			data, err := json.Marshal(view)
			if err != nil {
				h.log.Error("marshal swap view", "error", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, c)
					close(c.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish pushes a swap's current view to every connected operator.
// internal/dispatch calls it once per swap, after the swap's runner has
// returned its final state without error; intermediate checkpoints are not
// published.
func (h *Hub) Publish(id swapid.ID, role string, kind engine.Kind, actions []engine.Action) {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = actionName(a)
	}
	select {
	case h.broadcast <- SwapView{
		ID:        id,
		Role:      role,
		Kind:      kind.String(),
		Actions:   names,
		UpdatedAt: time.Now().Unix(),
	}:
	default:
		h.log.Warn("broadcast channel full, dropping swap view", "swap_id", id.String())
	}
}

// actionName reduces an Action's concrete type to a lowercase, generics-free
// label ("deploy", "fund", "redeem", ...) for the browser client; the full
// signable parameters stay server-side and reach the operator through
// internal/rpc once they choose one of these.
func actionName(a engine.Action) string {
	name := fmt.Sprintf("%T", a)
	name = strings.TrimPrefix(name, "engine.")
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// ServeHTTP upgrades the connection and registers it; the client never sends
// anything meaningful back, so no read-side dispatch is needed beyond draining
// the socket to notice a disconnect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
