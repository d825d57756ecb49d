package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out sync events to every connected /sync/stream client,
// the same register/unregister/broadcast-channel shape this codebase
// uses for its other push endpoints.
type Hub struct {
	logger     *slog.Logger
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan interface{}
	stop       chan struct{}
	mu         sync.Mutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan interface{}, 256),
		stop:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until Stop is
// called. It must be started exactly once before any client connects.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = map[*client]bool{}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("api: marshal broadcast event failed", "error", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		case <-heartbeat.C:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- []byte(`{"type":"ping"}`):
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and closes every client connection.
func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast queues event for delivery to every connected client.
// It drops the event rather than blocking if the broadcast channel
// is full, since a management stream is best-effort observability,
// not a delivery guarantee.
func (h *Hub) Broadcast(event interface{}) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("api: broadcast channel full, dropping event")
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, 32)}
	s.hub.register <- cl

	go func() {
		defer func() {
			select {
			case s.hub.unregister <- cl:
			case <-s.hub.stop:
			}
			conn.Close()
		}()
		for msg := range cl.send {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Drain and discard inbound frames; this stream is server-to-client
	// only, but we must read to process control frames and notice
	// disconnects.
	go func() {
		defer func() {
			select {
			case s.hub.unregister <- cl:
			case <-s.hub.stop:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
