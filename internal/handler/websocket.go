package handler

import (
	"github.com/gin-gonic/gin"

	"vscan/internal/ws"
)

// WebSocketHandler WebSocket 处理器
type WebSocketHandler struct {
	wsManager *ws.Manager
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(wsManager *ws.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
	}
}

// Status 处理状态推送 WebSocket 连接
func (h *WebSocketHandler) Status(c *gin.Context) {
	h.wsManager.HandleConnection(c)
}
