package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/store"
)

// WebSocket message types.
const (
	MessageTrade        = "trade"
	MessageRunCompleted = "run_completed"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	clientSend = 256
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type  string       `json:"type"`
	RunID string       `json:"run_id"`
	Trade *model.Trade `json:"trade,omitempty"`
	Run   *store.Info  `json:"run,omitempty"`
}

// subscriber is one connected client. Only its write pump writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans run progress out to every connected client. A client that
// falls behind by more than its send buffer is disconnected.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}

	broadcast  chan []byte
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}
	log        zerolog.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log zerolog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*subscriber]struct{}),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's event loop. It returns when ctx is done, disconnecting
// every client.
func (h *WSHub) Run(ctx context.Context) {
	defer metrics.WebSocketClients.Set(0)
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for sub := range h.clients {
				h.drop(sub)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub] = struct{}{}
			h.mu.Unlock()
			n := h.Clients()
			metrics.WebSocketClients.Set(float64(n))
			h.log.Info().Int("total", n).Msg("ws client connected")

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[sub]; ok {
				h.drop(sub)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(h.Clients()))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.clients {
				select {
				case sub.send <- msg:
				default:
					h.log.Warn().Msg("ws client too slow, disconnecting")
					h.drop(sub)
				}
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(h.Clients()))
		}
	}
}

// drop removes sub; the caller holds h.mu. Closing send stops the write
// pump, which closes the connection.
func (h *WSHub) drop(sub *subscriber) {
	delete(h.clients, sub)
	close(sub.send)
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for all connected clients. Messages are dropped
// when the queue is full so a backtest never waits on the network.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, clientSend)}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

// readPump discards client frames and detects disconnects through the
// pong deadline.
func (h *WSHub) readPump(sub *subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.done:
		}
	}()
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection: queued messages and
// keepalive pings.
func (h *WSHub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
