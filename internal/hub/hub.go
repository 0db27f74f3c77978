// Package hub fans decision and escalation events out to websocket
// clients, and routes human responses back into panes.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/user/yesman/internal/monitor"
	"github.com/user/yesman/internal/store"
)

// RespondFunc delivers a human's answer to a pane. recordID, when not
// empty, names the escalation record the answer resolves.
type RespondFunc func(sessionID, paneID, keys, recordID string)

type broadcastItem struct {
	sessionID string
	data      []byte
}

type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastItem
	onRespond  RespondFunc
	token      string
	mu         sync.RWMutex
	ctxWrap    *ctxWrapper
	running    atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

func New(token string, onRespond RespondFunc) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcastItem, 256),
		onRespond:  onRespond,
		token:      token,
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
	}
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
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
			log.Printf("client connected: %s (total: %d)", client.id, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("client disconnected: %s (total: %d)", client.id, h.ClientCount())

		case item := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.wantsSession(item.sessionID) {
					continue
				}
				select {
				case c.send <- item.data:
				default:
					log.Printf("client %s send buffer full, dropping message", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		log.Printf("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// DecisionApplied broadcasts an auto-applied response.
func (h *Hub) DecisionApplied(rec *store.ResponseRecord) {
	h.send(rec.SessionID, DecisionMessage{Type: "decision", Record: rec})
}

// PromptEscalated broadcasts a prompt awaiting a human answer.
func (h *Hub) PromptEscalated(rec *store.ResponseRecord) {
	h.send(rec.SessionID, EscalationMessage{Type: "escalation", Record: rec})
}

// MonitorStatus broadcasts a monitor state change.
func (h *Hub) MonitorStatus(sessionID string, state monitor.State) {
	h.send(sessionID, MonitorMessage{Type: "monitor_status", State: state})
}

func (h *Hub) send(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling hub message: %v", err)
		return
	}
	select {
	case h.broadcast <- broadcastItem{sessionID: sessionID, data: data}:
	default:
		log.Printf("broadcast channel full, dropping message")
	}
}

func (h *Hub) SendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: "error", Message: message})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleRespond(sessionID, paneID, keys, recordID string) {
	if h.onRespond != nil {
		h.onRespond(sessionID, paneID, keys, recordID)
	}
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
		log.Printf("unregister channel full for client %s, forcing close", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
