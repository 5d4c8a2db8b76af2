// Package hub broadcasts a run's console lines, state transitions, flash
// progress and final result to WebSocket viewers.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 100 * time.Millisecond

// Hub fans run events out to every connected viewer.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	token       string
	mu          sync.RWMutex
	rateLimiter *RateLimiter
	running     atomic.Bool
	ctx         atomic.Pointer[context.Context]
}

// New builds a Hub. An empty token disables authentication.
func New(token string) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		token:      token,
	}
	h.rateLimiter = NewRateLimiter(defaultBatchInterval, func(msg LineMessage) {
		h.sendJSON(msg)
	})
	background := context.Background()
	h.ctx.Store(&background)
	return h
}

func (h *Hub) getContext() context.Context {
	return *h.ctx.Load()
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.ctx.Store(&ctx)
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			go client.writePump(h.getContext())
			go client.readPump(h.getContext())
			slog.Info("monitor client connected", "client", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("monitor client disconnected", "client", client.id, "total", h.ClientCount())

		case data := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- data:
				default:
					slog.Warn("client send buffer full, dropping message", "client", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades the request and registers the viewer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept error", "err", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		slog.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// BroadcastLine queues one console line; lines are batched per run.
func (h *Hub) BroadcastLine(runID, text string) {
	h.rateLimiter.Add(LineMessage{
		Type:  "line",
		RunID: runID,
		Text:  text,
		Ts:    time.Now().UnixMilli(),
	})
}

// BroadcastState announces a state transition immediately, after flushing
// any batched lines so viewers see console and transition in order.
func (h *Hub) BroadcastState(runID, from, to string) {
	h.rateLimiter.FlushAll()
	h.sendJSON(StateMessage{
		Type:  "state",
		RunID: runID,
		From:  from,
		To:    to,
		Ts:    time.Now().UnixMilli(),
	})
}

// BroadcastProgress announces a flash percentage tick.
func (h *Hub) BroadcastProgress(runID string, pct int) {
	h.sendJSON(ProgressMessage{
		Type:  "progress",
		RunID: runID,
		Pct:   pct,
		Ts:    time.Now().UnixMilli(),
	})
}

// BroadcastResult announces the run's final verdict.
func (h *Hub) BroadcastResult(runID, outcome, finalState, reason string, duration time.Duration) {
	h.rateLimiter.FlushAll()
	h.sendJSON(ResultMessage{
		Type:       "result",
		RunID:      runID,
		Outcome:    outcome,
		FinalState: finalState,
		Reason:     reason,
		DurationMs: duration.Milliseconds(),
		Ts:         time.Now().UnixMilli(),
	})
}

func (h *Hub) sendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal hub message", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) sendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: "error", Message: message})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		slog.Warn("unregister channel full, forcing close", "client", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
