package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/pubsub"
	"github.com/qs3c/site_structure_server/internal/pkg/response"
	"github.com/qs3c/site_structure_server/internal/pkg/ws"
)

var upgrader = websocket.Upgrader{
	// 允许所有来源的前端订阅进度
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ProgressSubscriber 订阅 worker 发布的分析进度
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, handler func(*pubsub.ProgressMessage), ready chan<- struct{}) error
}

type WebSocketHandler struct {
	hub *ws.Hub
	log *logger.Logger
}

func NewWebSocketHandler(hub *ws.Hub, log *logger.Logger) *WebSocketHandler {
	if log == nil {
		log = logger.Default()
	}
	return &WebSocketHandler{
		hub: hub,
		log: log,
	}
}

// Handle 升级为 WebSocket 连接并推送单个公司的分析进度
// GET /api/v1/ws?company_id=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		response.ParamError(c, "invalid company_id")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithFields(logger.Fields{"company_id": companyID, "error": err.Error()}).Warn("websocket upgrade failed")
		return
	}

	client := &ws.Client{
		CompanyID: companyID,
		Conn:      conn,
	}
	h.hub.Register(client)

	// 读循环仅用于检测断开
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// RelayProgress 将 worker 进度转发给关注该公司的客户端，直到 ctx 结束
func (h *WebSocketHandler) RelayProgress(ctx context.Context, sub ProgressSubscriber, ready chan<- struct{}) error {
	return sub.Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
		if !h.hub.IsWatched(msg.CompanyID) {
			return
		}
		if err := h.hub.SendToCompany(msg.CompanyID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
			h.log.WithFields(logger.Fields{"company_id": msg.CompanyID, "error": err.Error()}).Warn("progress relay failed")
		}
	}, ready)
}
