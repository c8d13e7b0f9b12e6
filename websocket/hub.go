package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/PrincewillDev/polling-app-sub000/logging"
)

// Message is the envelope pushed to live result subscribers.
type Message struct {
	Type    string      `json:"type"`
	PollID  string      `json:"poll_id"`
	Payload interface{} `json:"payload"`
}

// Client is one connected subscriber, pinned to a single poll.
type Client struct {
	PollID string

	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients grouped by poll and broadcasts tally updates
// to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

// NewHub creates an empty hub; call Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister requests.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.PollID]; !ok {
				h.clients[client.PollID] = make(map[*Client]bool)
			}
			h.clients[client.PollID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if peers, ok := h.clients[client.PollID]; ok {
				if peers[client] {
					delete(peers, client)
					close(client.send)
					if len(peers) == 0 {
						delete(h.clients, client.PollID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToPoll pushes a message to every client subscribed to the poll.
// Slow clients are dropped rather than allowed to block the hub.
func (h *Hub) BroadcastToPoll(pollID string, message *Message) {
	raw, err := json.Marshal(message)
	if err != nil {
		logging.Log.Warnf("序列化广播消息失败: %v", err)
		return
	}

	// 发送期间持有读锁：注销方在写锁内关闭send，两者互斥，
	// 不会出现向已关闭通道发送
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients[pollID] {
		select {
		case client.send <- raw:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.unregister <- client
	}
}

// SubscriberCount reports how many clients watch the poll.
func (h *Hub) SubscriberCount(pollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pollID])
}
