package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/insightagent/internal/pipeline"
	"github.com/seenimoa/insightagent/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; restrict in production
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Message types exchanged over the socket.
const (
	msgAsk      = "ask"
	msgQuery    = "query"
	msgPing     = "ping"
	msgPong     = "pong"
	msgStage    = "stage"
	msgResult   = "result"
	msgError    = "error"
	msgComplete = "query_complete"
)

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsRequest is a message received from a client. "ask" carries Query,
// "query" carries Intent.
type wsRequest struct {
	Type   string         `json:"type"`
	Query  string         `json:"query,omitempty"`
	Intent *models.Intent `json:"intent,omitempty"`
}

// handleWebSocket upgrades the connection and runs queries sent by the
// client, streaming each stage event followed by the final result.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.hubRunning.Load() {
		writeError(w, http.StatusServiceUnavailable, pipeline.CategoryInternal, "websocket hub is not running")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.wsHub)
	s.wsHub.Register(client)

	go wsWritePump(conn, client)
	go s.wsReadPump(conn, client)
}

// wsReadPump reads client requests and runs them one at a time.
func (s *Server) wsReadPump(conn *websocket.Conn, client *WSClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.Send(WSMessage{Type: msgError, Data: "invalid message"})
			continue
		}

		switch req.Type {
		case msgPing:
			client.Send(WSMessage{Type: msgPong})
		case msgAsk, msgQuery:
			preq, ok := req.pipelineRequest()
			if !ok {
				client.Send(WSMessage{Type: msgError, Data: "ask needs a query, query needs an intent"})
				continue
			}
			preq.Observer = pipeline.ObserverFunc(func(e pipeline.Event) {
				client.Send(WSMessage{Type: msgStage, Data: e})
			})
			runCtx, cancelRun := context.WithTimeout(ctx, s.requestTimeout())
			res := s.orch.Run(runCtx, preq)
			cancelRun()
			client.Send(WSMessage{Type: msgResult, Data: res})
		default:
			client.Send(WSMessage{Type: msgError, Data: "unknown message type " + req.Type})
		}
	}
}

func (m wsRequest) pipelineRequest() (pipeline.Request, bool) {
	switch {
	case m.Type == msgAsk && m.Query != "":
		return pipeline.Request{Query: m.Query}, true
	case m.Type == msgQuery && m.Intent != nil:
		in := *m.Intent
		return pipeline.Request{Intent: &in}, true
	}
	return pipeline.Request{}, false
}

// wsWritePump writes queued messages and keep-alive pings until the client
// is closed.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-client.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSHub tracks connected clients and fans broadcasts out to them.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	stopped    chan struct{}
}

// WSClient represents a single WebSocket connection. The send channel is
// never closed; done signals that the client is gone.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage
	done chan struct{}
	once sync.Once
}

func newWSClient(h *WSHub) *WSClient {
	return &WSClient{hub: h, send: make(chan WSMessage, 256), done: make(chan struct{})}
}

// Send queues a message and reports whether the client was still open.
func (c *WSClient) Send(msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *WSClient) close() { c.once.Do(func() { close(c.done) }) }

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub event loop and returns when ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			client.close()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow client; disconnect
					delete(h.clients, client)
					client.close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub. A client registered after the hub
// stopped is closed immediately.
func (h *WSHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.close()
	}
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.close()
	}
}
