package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sdgateway/logging"
)

// Hub streams request notices to WebSocket subscribers. A client either
// follows one request (?request_id=...) or every request.
//
// Hub implements orchestrator.Notifier. Notify never blocks: a client whose
// send buffer is full is disconnected.
type Hub struct {
	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex

	register   chan *client
	unregister chan *websocket.Conn
	done       chan struct{}

	upgrader websocket.Upgrader
	cfg      HubConfig
	logger   *logging.Logger
}

type client struct {
	conn        *websocket.Conn
	requestID   string
	remoteAddr  string
	connectedAt time.Time
	send        chan []byte
}

// HubConfig holds connection timing for the Hub.
type HubConfig struct {
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	MaxMessageSize       int64
	ClientSendBufferSize int
}

// DefaultHubConfig returns the default connection timing.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		ClientSendBufferSize: 64,
	}
}

// NewHub creates a Hub. Call Run to start serving registrations.
func NewHub(cfg HubConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		cfg:        cfg,
		logger:     logger.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run processes registrations and keep-alive pings until ctx is done,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case conn := <-h.unregister:
			h.remove(conn)
		case <-ticker.C:
			h.pingAll()
		}
	}
}

// HandleConnection upgrades an HTTP request to a subscriber connection.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	c := &client{
		conn:        conn,
		requestID:   r.URL.Query().Get("request_id"),
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		send:        make(chan []byte, h.cfg.ClientSendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.readPump(conn)
}

// Notify sends a notice to the subscribers of requestID.
func (h *Hub) Notify(requestID, message string) {
	h.Publish(NewWSMessage(MessageTypeNotice, requestID, NoticeData{Message: message}))
}

// Publish delivers msg to every client following msg.RequestID or all
// requests.
func (h *Hub) Publish(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for conn, c := range h.clients {
		if c.requestID != "" && c.requestID != msg.RequestID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client send buffer full, closing", zap.String("remote", c.remoteAddr))
			go h.drop(conn)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.clientsMu.Lock()
	h.clients[c.conn] = c
	n := len(h.clients)
	h.clientsMu.Unlock()

	go h.writePump(c)
	h.logger.Debug("client connected",
		zap.String("remote", c.remoteAddr),
		zap.String("request_id", c.requestID),
		zap.Int("clients", n))
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if c, ok := h.clients[conn]; ok {
		close(c.send)
		delete(h.clients, conn)
		conn.Close()
		h.logger.Debug("client disconnected",
			zap.String("remote", c.remoteAddr),
			zap.Duration("connected", time.Since(c.connectedAt)))
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for conn, c := range h.clients {
		close(c.send)
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) pingAll() {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
			go h.drop(conn)
		}
	}
}

// drop queues conn for removal unless the hub has stopped.
func (h *Hub) drop(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// readPump discards client input; it only notices when the peer goes away.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("unexpected websocket close", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
