package signal

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"dubsync/internal/core/ports"
	"dubsync/pkg/config"
	"dubsync/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Event is the envelope pushed to every connected UI.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WebSocketServer fans game events out to connected UIs. Clients are
// read-only subscribers; the only message they may send is a ping.
type WebSocketServer struct {
	upgrader websocket.Upgrader

	clients map[*client]struct{}
	mu      sync.RWMutex

	snapshot func() []Event

	pingInterval time.Duration
	pongTimeout  time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(cfg *config.Config, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the UI is served from a separate origin in development
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[*client]struct{}),
		pingInterval: cfg.Signal.PingInterval,
		pongTimeout:  cfg.Signal.PongTimeout,
		logger:       logger,
	}
}

// SetSnapshotProvider registers the events replayed to each new client so it
// starts from the current state instead of waiting for the next change.
func (s *WebSocketServer) SetSnapshotProvider(fn func() []Event) {
	s.mu.Lock()
	s.snapshot = fn
	s.mu.Unlock()
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   utils.GenerateID("ws"),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	snapshot := s.snapshot
	s.mu.Unlock()

	s.logger.Infow("client connected", "client_id", c.id, "remote", r.RemoteAddr)

	if snapshot != nil {
		for _, ev := range snapshot() {
			s.sendTo(c, ev)
		}
	}

	go s.writePump(c)
	s.readPump(c)
}

func (s *WebSocketServer) readPump(c *client) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
		s.logger.Infow("client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading from client", "client_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		switch msg.Type {
		case "ping":
			s.sendTo(c, Event{Type: "pong", Timestamp: time.Now()})
		default:
			s.sendTo(c, Event{Type: "error", Timestamp: time.Now(), Payload: map[string]string{
				"message": "unknown message type: " + msg.Type,
			}})
		}
	}
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing to client", "client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

func (s *WebSocketServer) sendTo(c *client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Errorw("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Broadcast encodes the event once and queues it for every client. Clients
// whose queue is full are disconnected rather than blocking the game.
func (s *WebSocketServer) Broadcast(eventType string, payload interface{}) {
	data, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		s.logger.Errorw("failed to encode event", "type", eventType, "error", err)
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warnw("dropping slow client", "client_id", c.id)
		s.unregister(c)
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *WebSocketServer) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.unregister(c)
	}
}

var _ ports.EventBroadcaster = (*WebSocketServer)(nil)
