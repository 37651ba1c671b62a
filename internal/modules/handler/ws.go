package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the editor frontend is served from a different origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the wire frame for every event in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsConn is one attached client. Sends are serialized through a buffered
// channel drained by writePump; a full buffer drops the event rather than
// blocking a broadcast.
type wsConn struct {
	id   string
	sock *websocket.Conn
	send chan Envelope
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	// late sends from in-flight handlers must not hit the closed channel
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.send <- Envelope{Event: event, Data: data}:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", c.id)
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
		_ = c.sock.Close()
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteJSON(env); err != nil {
				c.log.Sugar().Debugw("write failed", "connection", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler upgrades HTTP requests to WebSocket connections and hands them
// to the hub.
type WSHandler struct {
	hub *SyncHub
	log *zap.Logger
}

func NewWSHandler(hub *SyncHub, log *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

func (h *WSHandler) Attach(c *gin.Context) {
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Sugar().Warnw("websocket upgrade failed", "err", err)
		return
	}

	conn := &wsConn{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan Envelope, sendBuffer),
		log:  h.log,
	}
	h.log.Sugar().Infow("connection attached", "connection", conn.id, "clientIP", c.ClientIP())

	go conn.writePump()
	h.hub.Serve(conn)
}
