package ws

import (
	"sync"

	"github.com/JhonHurtado/chat-in-real-time/internal/event"
	"github.com/JhonHurtado/chat-in-real-time/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 管理全部连接与房间组。一个连接可以同时订阅多个房间组。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[uint]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[uint]map[*Client]struct{}),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.WsConnections.Inc()
}

// remove 把连接从全部房间组中移除，重复调用无副作用。
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	for roomID := range c.rooms {
		h.leaveLocked(roomID, c)
	}
	metrics.WsConnections.Dec()
}

// Join 把连接加入房间组。调用方负责先完成成员校验。
func (h *Hub) Join(roomID uint, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[*Client]struct{})
		h.rooms[roomID] = group
	}
	group[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
}

func (h *Hub) Leave(roomID uint, c *Client) {
	h.mu.Lock()
	h.leaveLocked(roomID, c)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(roomID uint, c *Client) {
	delete(c.rooms, roomID)
	group, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) InRoom(roomID uint, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][c]
	return ok
}

// Online 返回房间组内的连接数，供 REST 接口复用。
func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// BroadcastRoom 向房间组内除 exceptConnID 外的连接投递事件。
func (h *Hub) BroadcastRoom(roomID uint, ev event.Server, exceptConnID string) {
	b, err := event.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name()).Msg("encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c.id == exceptConnID {
			continue
		}
		c.enqueue(b)
	}
}

// SendTo 向单个连接投递事件，连接不存在或已关闭时返回 false。
func (h *Hub) SendTo(connID string, ev event.Server) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(ev)
}

// CloseAll 关闭全部连接，停服时使用。各连接的 readPump 退出后会自行完成注销。
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}
