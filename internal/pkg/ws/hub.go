package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/qs3c/site_structure_server/internal/pkg/logger"
)

// Hub 按公司管理 WebSocket 连接
type Hub struct {
	// 同一公司可能有多个连接
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex
	log     *logger.Logger
}

type Client struct {
	CompanyID int64
	Conn      *websocket.Conn
	mu        sync.Mutex // 串行化写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.CompanyID] == nil {
		h.clients[client.CompanyID] = make(map[*Client]struct{})
	}
	h.clients[client.CompanyID][client] = struct{}{}

	h.log.WithFields(logger.Fields{
		"company_id":    client.CompanyID,
		"company_conns": len(h.clients[client.CompanyID]),
		"total":         h.countLocked(),
	}).Debug("websocket client connected")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.CompanyID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.CompanyID)
		}
	}
	h.log.WithFields(logger.Fields{"company_id": client.CompanyID}).Debug("websocket client disconnected")
}

// SendToCompany 向关注该公司的所有连接发送消息
func (h *Hub) SendToCompany(companyID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[companyID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份，写入时不持有 hub 锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.Conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.log.WithFields(logger.Fields{"company_id": companyID, "error": err.Error()}).Warn("websocket write failed")
		}
	}
	return nil
}

// IsWatched 是否有客户端关注该公司
func (h *Hub) IsWatched(companyID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[companyID]
	return ok && len(conns) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
