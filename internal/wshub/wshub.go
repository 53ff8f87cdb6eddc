// Package wshub serves the live subscription feed of published
// EnhancedAnalysisRecords over WebSocket, generalized from the teacher's
// single-client hub to many concurrent clients, each with its own send
// queue so one slow reader never blocks another.
package wshub

import (
	"container/list"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/logging"
	"github.com/threatanalysis/coordinator/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	seenWindowSize = 4096
)

// Message is the wire envelope for every frame exchanged over /ws.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type inbound struct {
	Type string `json:"type"`
}

// client is one active WebSocket connection's outbound queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out published records to every currently-connected client.
// Registering a client sends it an initial_batch of the most recent
// records before any new_threat frames, matching the documented /ws
// handshake.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*client]bool

	store       store.Store
	initialSize int

	seenMu   sync.Mutex
	seen     map[string]struct{}
	seenLRU  *list.List

	logger logging.Logger
}

// New builds a Hub. st and initialBatchSize drive the initial_batch sent to
// each newly connected client; initialBatchSize <= 0 disables it.
func New(st store.Store, initialBatchSize int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Hub{
		register:    make(chan *client),
		unregister:  make(chan *client),
		broadcast:   make(chan []byte, 256),
		clients:     make(map[*client]bool),
		store:       st,
		initialSize: initialBatchSize,
		seen:        make(map[string]struct{}),
		seenLRU:     list.New(),
		logger:      logger.With("wshub"),
	}
}

// Run drives the hub's registration/broadcast loop; call it once in its
// own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", logging.Fields{"total": len(h.clients)})

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", logging.Fields{"total": len(h.clients)})

		case payload := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					h.logger.Warn("client send queue full, dropping connection", nil)
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// RunFeed drains a store subscription, broadcasting each record as a
// new_threat frame until the feed channel closes. A record whose id has
// already been broadcast is dropped: the broker's at-least-once publish
// can redeliver, and downstream clients must see each id once.
func (h *Hub) RunFeed(feed <-chan domain.EnhancedAnalysisRecord) {
	for record := range feed {
		if h.alreadySeen(record.ID) {
			continue
		}
		h.publish("new_threat", record)
	}
}

func (h *Hub) alreadySeen(id string) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if _, ok := h.seen[id]; ok {
		return true
	}
	h.seen[id] = struct{}{}
	h.seenLRU.PushBack(id)
	if h.seenLRU.Len() > seenWindowSize {
		oldest := h.seenLRU.Remove(h.seenLRU.Front()).(string)
		delete(h.seen, oldest)
	}
	return false
}

func (h *Hub) publish(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", logging.Fields{"error": err.Error()})
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast channel full, dropping message", logging.Fields{"type": msgType})
	}
}

// ServeWS upgrades the request, sends the initial_batch, and registers the
// resulting client for ongoing new_threat frames.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}

	if h.store != nil && h.initialSize > 0 {
		recent, err := h.store.Recent(r.Context(), h.initialSize)
		if err != nil {
			h.logger.Warn("failed to load initial batch", logging.Fields{"error": err.Error()})
			recent = nil
		}
		if payload, err := json.Marshal(Message{Type: "initial_batch", Data: recent}); err == nil {
			c.send <- payload
		}
	}

	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if payload, err := json.Marshal(Message{Type: "pong"}); err == nil {
				select {
				case c.send <- payload:
				default:
				}
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// FeedFrom subscribes to st for the hub's lifetime and forwards every
// published record into the hub's broadcast loop. The returned cleanup
// func must be called to release the subscription.
func FeedFrom(ctx context.Context, h *Hub, st store.Store) (func(), error) {
	feed, cleanup, err := st.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	go h.RunFeed(feed)
	return cleanup, nil
}
