package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuffer = 128
	writeTimeout     = 5 * time.Second
	pongTimeout      = 90 * time.Second
	pingInterval     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the main server
		return true
	},
}

// Hub tracks live websocket clients under a plain mutex. Delivery follows
// the same discipline as the sequencer fan-out: a non-blocking send into a
// bounded per-client buffer, so a client that falls behind misses messages
// and reconciles through the read endpoints.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[ws] %s joined, %d clients", c.id, n)
}

// remove is called exactly once, from the client's read loop teardown.
// Closing send stops the write loop.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		close(c.send)
		log.Printf("[ws] %s left, %d clients", c.id, n)
	}
}

// BroadcastToChannel pushes one message to every client subscribed to the
// channel. Never blocks the publisher.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	msg, err := json.Marshal(data)
	if err != nil {
		log.Printf("[ws] marshal %s: %v", channel, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Client buffer full, drop.
		}
	}
}

// Client is one websocket connection with its channel subscriptions.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *Client) setSubscribed(channel string, on bool) {
	c.mu.Lock()
	if on {
		c.subs[channel] = struct{}{}
	} else {
		delete(c.subs, channel)
	}
	c.mu.Unlock()
	log.Printf("[ws] %s subscription %s=%v", c.id, channel, on)
}

// readLoop consumes subscribe/unsubscribe control messages until the
// connection dies, then unregisters the client.
func (c *Client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req WSSubscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			log.Printf("[ws] %s sent bad control message: %v", c.id, err)
			continue
		}
		switch req.Op {
		case "subscribe":
			for _, ch := range req.Channels {
				c.setSubscribed(ch, true)
			}
		case "unsubscribe":
			for _, ch := range req.Channels {
				c.setSubscribed(ch, false)
			}
		default:
			log.Printf("[ws] %s sent unknown op %q", c.id, req.Op)
		}
	}
}

// writeLoop drains the send buffer and keeps the connection alive with
// pings. Exits when remove closes send or a write fails; closing the
// connection here unblocks the read loop.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and starts the client loops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	c := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		id:   conn.RemoteAddr().String(),
		subs: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}
