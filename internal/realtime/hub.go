// Package realtime holds the browser WebSocket connections. Every connection
// joins a room named after its socket ID; render events are delivered to that
// room only.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"scenerender/internal/ids"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
	// maxInflight bounds concurrently running handlers per connection.
	maxInflight = 4
)

// EventConnected is sent once, right after the upgrade.
const EventConnected = "connected"

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler is called for every inbound frame on its own goroutine, so a slow
// handler never stalls pong processing. ctx ends when the connection does.
type Handler func(ctx context.Context, c *Conn, event string, data json.RawMessage)

// Hub tracks live connections by room.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader
	handler  Handler

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

// NewHub creates a hub. allowedOrigins empty or containing "*" accepts any origin.
func NewHub(log *logger.Logger, allowedOrigins []string, handler Handler) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	h := &Hub{
		log:     log.WithComponent("realtime"),
		handler: handler,
		rooms:   make(map[string]map[*Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Conn is one browser connection.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	log  *logger.Logger

	// UserID is the session owner, when the request carried a session cookie.
	UserID string

	tasks     errgroup.Group
	closeOnce sync.Once
}

// ID is the socket ID, which is also the connection's room.
func (c *Conn) ID() string { return c.id }

// Send queues an event for this connection only.
func (c *Conn) Send(event string, payload any) error {
	frame, err := encode(event, payload)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return errors.New(errors.CodeUnavailable, "connection send buffer full")
	}
	return nil
}

func (c *Conn) enqueue(frame []byte) (ok bool) {
	defer func() {
		// send was closed by a concurrent disconnect
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.hub.leave(c)
		close(c.send)
	})
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "realtime.encode", "encode "+event+" payload")
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// userID may be empty.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Serve(w, r, "")
}

// Serve upgrades the request for the given session owner.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Conn{
		id:     ids.NewID(),
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		UserID: userID,
	}
	c.log = h.log.WithSocketID(c.id)
	h.join(c)
	c.log.Info("socket connected", "user_id", userID)

	_ = c.Send(EventConnected, map[string]string{"socket_id": c.id})

	go c.writePump()
	c.readPump(r.Context())
}

func (h *Hub) join(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.id]
	if room == nil {
		room = make(map[*Conn]struct{})
		h.rooms[c.id] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.id]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.id)
	}
}

// Emit sends an event to every connection in room. An unknown room is a no-op.
func (h *Hub) Emit(room, event string, payload any) error {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		h.log.Debug("emit to empty room", "room", room, "event", event)
		return nil
	}

	frame, err := encode(event, payload)
	if err != nil {
		return err
	}
	for _, c := range conns {
		if !c.enqueue(frame) {
			c.log.Warn("slow socket dropped", "event", event)
			c.close()
		}
	}
	return nil
}

// Connections counts live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// Close disconnects everyone.
func (h *Hub) Close() {
	h.mu.RLock()
	var conns []*Conn
	for _, room := range h.rooms {
		for c := range room {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

func (c *Conn) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(logger.ContextWithSocketID(ctx, c.id))
	c.tasks.SetLimit(maxInflight)
	defer func() {
		cancel()
		_ = c.tasks.Wait()
		c.close()
		c.log.Info("socket disconnected")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("socket read failed", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.log.Warn("malformed socket frame dropped")
			continue
		}
		if c.hub.handler == nil {
			continue
		}
		if !c.tasks.TryGo(func() error {
			c.dispatch(ctx, env)
			return nil
		}) {
			c.log.Warn("socket frame dropped, too many in flight", "event", env.Event)
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("socket handler panicked", "event", env.Event, "panic", r)
		}
	}()
	c.hub.handler(ctx, c, env.Event, env.Data)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("socket write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
