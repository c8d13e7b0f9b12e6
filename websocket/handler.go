package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PrincewillDev/polling-app-sub000/logging"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// 必须小于pongWait
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 允许所有跨域请求，生产环境应限制来源
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests into hub subscriptions.
type Handler struct {
	hub *Hub
}

// NewHandler wraps a hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleConnection upgrades the request and subscribes the client to the
// poll named in the route.
func (h *Handler) HandleConnection(c *gin.Context) {
	pollID := c.Param("id")
	if pollID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid poll ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Log.Warnf("升级WebSocket连接失败: %v", err)
		return
	}

	client := &Client{
		PollID: pollID,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
	h.hub.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

// readPump drains inbound frames; subscribers never send meaningful data,
// the reads just keep pong handling alive.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.unregister <- client
		_ = client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards broadcasts and keeps the connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
