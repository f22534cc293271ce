package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Status is a connection's presence state (§3 "Connection").
type Status string

const (
	StatusOffline Status = "OFFLINE"
	StatusOnline  Status = "ONLINE"
	StatusInGame  Status = "IN_GAME"
)

// Message is the wire envelope for every inbound/outbound event (§6:
// "{event: string, data: object}").
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// AllowedOrigins is the WebSocket origin whitelist, adapted verbatim from
// the teacher's internal/server/websocket/websocket.go.
var AllowedOrigins = loadAllowedOrigins()

func loadAllowedOrigins() []string {
	originsEnv := os.Getenv("ALLOWED_ORIGINS")
	if originsEnv == "" {
		log.Println("[SECURITY] WARNING: ALLOWED_ORIGINS not set, defaulting to localhost:3000")
		return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}

	origins := strings.Split(originsEnv, ",")
	trimmed := make([]string, 0, len(origins))
	for _, o := range origins {
		trimmed = append(trimmed, strings.TrimSpace(o))
	}
	return trimmed
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		log.Printf("[SECURITY] rejected websocket connection: missing Origin header from %s", r.RemoteAddr)
		return false
	}
	for _, allowed := range AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	log.Printf("[SECURITY] rejected websocket connection from unauthorized origin: %s", origin)
	return false
}

var upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}

// Connection is one authenticated duplex transport (§3 "Connection").
type Connection struct {
	UserID int64
	Email  string
	Status Status
	Conn   *websocket.Conn
	Send   chan []byte

	mu sync.Mutex
}

// Hub maps userId to Connection, fans out typed events, and tracks
// presence. Generalized from the teacher's table-scoped
// clients-map-plus-mutex in internal/server/websocket/{websocket,client}.go
// into a standalone component per spec §4.1 (addConnection/remove/setStatus/
// emitToUser/broadcast/on).
type Hub struct {
	mu          sync.RWMutex
	connections map[int64]*Connection
	handlers    map[string][]func(userID int64, data interface{})
}

func New() *Hub {
	return &Hub{
		connections: make(map[int64]*Connection),
		handlers:    make(map[string][]func(userID int64, data interface{})),
	}
}

// AddConnection replaces any existing connection for userID, closing the
// old one first (§4.1: "replaces any existing connection for that user").
func (h *Hub) AddConnection(userID int64, email string, conn *websocket.Conn) *Connection {
	h.mu.Lock()
	if old, ok := h.connections[userID]; ok {
		close(old.Send)
		old.Conn.Close()
	}
	c := &Connection{
		UserID: userID,
		Email:  email,
		Status: StatusOnline,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	h.connections[userID] = c
	h.mu.Unlock()

	go h.writePump(c)
	return c
}

// Remove detaches a user's connection, a no-op if already absent.
func (h *Hub) Remove(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.connections[userID]; ok {
		delete(h.connections, userID)
		close(c.Send)
	}
}

func (h *Hub) SetStatus(userID int64, status Status) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.connections[userID]; ok {
		c.mu.Lock()
		c.Status = status
		c.mu.Unlock()
	}
}

// EmitToUser drops silently if userID is not connected (§4.1).
func (h *Hub) EmitToUser(userID int64, event string, data interface{}) {
	h.mu.RLock()
	c, ok := h.connections[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.send(c, event, data)
}

// Broadcast sends to every live connection.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.connections {
		h.send(c, event, data)
	}
}

func (h *Hub) send(c *Connection, event string, data interface{}) {
	msg := Message{Event: event, Data: data}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[HUB] failed to marshal event %s for user %d: %v", event, c.UserID, err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		log.Printf("[HUB] send buffer full for user %d, dropping %s", c.UserID, event)
	}
}

// On registers an in-process subscriber for an internal fan-in event (used
// by the Tournament Orchestrator's subscription to "tournament:game-ended").
func (h *Hub) On(event string, fn func(userID int64, data interface{})) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], fn)
}

// Publish invokes every in-process subscriber registered via On, used for
// internal fan-in events that never reach a client directly.
func (h *Hub) Publish(event string, userID int64, data interface{}) {
	h.mu.RLock()
	fns := append([]func(int64, interface{}){}, h.handlers[event]...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(userID, data)
	}
}

func (h *Hub) IsConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[userID]
	return ok
}

func (h *Hub) writePump(c *Connection) {
	defer c.Conn.Close()
	for data := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump drains inbound frames for one connection, dispatching each to
// dispatch. When the transport closes it removes c from the Hub (unless a
// newer connection for the same user has already replaced it) and returns;
// the caller then treats the close as leaveGame (§4.4).
func (h *Hub) ReadPump(c *Connection, dispatch func(userID int64, msg Message)) {
	defer func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.connections[c.UserID]; ok && cur == c {
			delete(h.connections, c.UserID)
			close(c.Send)
		}
	}()

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			return
		}
		dispatch(c.UserID, msg)
	}
}

// Upgrade upgrades an HTTP connection to a WebSocket duplex transport.
func Upgrade(c *gin.Context) (*websocket.Conn, error) {
	return upgrader.Upgrade(c.Writer, c.Request, nil)
}
