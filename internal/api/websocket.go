package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/game"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs, first is the client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WebSocketClient is one admitted connection
type WebSocketClient struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan []byte
	session    *game.Session
	remoteAddr string
}

// delivery is one queued outbound message; an empty token means broadcast
type delivery struct {
	token string
	kick  bool
	data  []byte
}

// WebSocketHub owns the set of admitted clients, keyed by token. All changes
// go through Run so deliveries keep their queueing order.
type WebSocketHub struct {
	clients    map[string]*WebSocketClient
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	deliver    chan delivery
	count      chan chan int
	done       chan struct{}
	log        zerolog.Logger
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(log zerolog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[string]*WebSocketClient),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		deliver:    make(chan delivery, 1024),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's main loop. On return every client is disconnected.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for token, client := range h.clients {
			close(client.send)
			delete(h.clients, token)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			token := client.session.Token
			if old, ok := h.clients[token]; ok && old != client {
				close(old.send)
			}
			h.clients[token] = client
			h.log.Info().Str("remote", client.remoteAddr).Str("user", client.session.Name).
				Int("total", len(h.clients)).Msg("websocket client connected")

		case client := <-h.unregister:
			token := client.session.Token
			if current, ok := h.clients[token]; ok && current == client {
				delete(h.clients, token)
				close(client.send)
			}
			h.log.Info().Str("remote", client.remoteAddr).Str("user", client.session.Name).
				Int("total", len(h.clients)).Msg("websocket client disconnected")

		case d := <-h.deliver:
			h.handleDelivery(d)

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *WebSocketHub) handleDelivery(d delivery) {
	if d.token == "" {
		for token, client := range h.clients {
			h.push(token, client, d.data)
		}
		return
	}
	client, ok := h.clients[d.token]
	if !ok {
		return
	}
	if !h.push(d.token, client, d.data) {
		return
	}
	if d.kick {
		delete(h.clients, d.token)
		close(client.send)
	}
}

// push queues data on a client, dropping the client if its buffer is full
func (h *WebSocketHub) push(token string, client *WebSocketClient, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		h.log.Warn().Str("user", client.session.Name).Msg("client send buffer full, disconnecting")
		close(client.send)
		delete(h.clients, token)
		return false
	}
}

// enqueue never blocks. A full queue drops ordinary messages, but a kick is
// handed to a goroutine that waits for room so the socket is always closed.
func (h *WebSocketHub) enqueue(d delivery) {
	select {
	case h.deliver <- d:
	default:
		if !d.kick {
			h.log.Warn().Msg("delivery queue full, dropping message")
			return
		}
		h.log.Warn().Msg("delivery queue full, deferring kick")
		go func() {
			select {
			case h.deliver <- d:
			case <-h.done:
			}
		}()
	}
}

func encode(msg domain.Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	return data, err == nil
}

// Send implements game.Notifier
func (h *WebSocketHub) Send(token string, msg domain.Message) {
	if data, ok := encode(msg); ok {
		h.enqueue(delivery{token: token, data: data})
	}
}

// Broadcast implements game.Notifier
func (h *WebSocketHub) Broadcast(msg domain.Message) {
	if data, ok := encode(msg); ok {
		h.enqueue(delivery{data: data})
	}
}

// Kick implements game.Notifier: msg is the last frame the client receives
func (h *WebSocketHub) Kick(token string, msg domain.Message) {
	if data, ok := encode(msg); ok {
		h.enqueue(delivery{token: token, kick: true, data: data})
	}
}

// Register adds an admitted client. It returns false once the hub has stopped.
func (h *WebSocketHub) Register(client *WebSocketClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *WebSocketHub) Unregister(client *WebSocketClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// handleWebSocket upgrades, admits the token and starts the pumps. A
// rejected token still gets an upgraded connection carrying auth_error.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	token := req.URL.Query().Get("token")
	sess, err := r.state.Admit(token)
	if err != nil {
		r.log.Info().Str("remote", getClientIP(req)).Err(err).Msg("admission rejected")
		rejectConn(conn, game.RejectionMessage(err))
		return
	}

	client := &WebSocketClient{
		hub:        r.wsHub,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		session:    sess,
		remoteAddr: getClientIP(req),
	}
	if !r.wsHub.Register(client) {
		sess.Close()
		conn.Close()
		return
	}

	go client.writePump()
	r.state.Resume(sess)
	go client.readPump(r.dispatch)
}

func rejectConn(conn *websocket.Conn, message string) {
	defer conn.Close()
	data, ok := encode(domain.NewMessage(domain.EventAuthError, message))
	if !ok {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}

// readPump decodes inbound envelopes until the connection fails; the session
// is released exactly once however the loop ends.
func (c *WebSocketClient) readPump(dispatch func(*game.Session, domain.Message)) {
	defer func() {
		c.hub.Unregister(c)
		c.session.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug().Err(err).Str("user", c.session.Name).Msg("websocket read error")
			}
			break
		}
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.hub.log.Debug().Str("user", c.session.Name).Msg("ignoring malformed frame")
			continue
		}
		dispatch(c.session, msg)
	}
}

// writePump sends queued messages, one envelope per frame
func (c *WebSocketClient) writePump() {
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
