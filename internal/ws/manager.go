package ws

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vscan/internal/events"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionChecker 用于在升级前确认会话存在
type SessionChecker func(sessionID string) error

// Manager WebSocket 连接管理器
type Manager struct {
	connections sync.Map // map[connID]*websocket.Conn
	bus         events.Bus
	check       SessionChecker
	logger      *zap.Logger
	seq         atomic.Uint64
}

// NewManager 创建 WebSocket 管理器, check 可为 nil
func NewManager(bus events.Bus, check SessionChecker, logger *zap.Logger) *Manager {
	return &Manager{
		bus:    bus,
		check:  check,
		logger: logger,
	}
}

// HandleConnection 订阅会话的状态事件并推送到 WebSocket
func (m *Manager) HandleConnection(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "session_id is required",
		})
		return
	}
	if m.check != nil {
		if err := m.check(sessionID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    404,
				"message": err.Error(),
			})
			return
		}
	}

	// 先订阅再升级, 避免丢失升级期间的事件
	ctx := c.Request.Context()
	ch, unsubscribe, err := m.bus.Subscribe(ctx, sessionID)
	if err != nil {
		m.logger.Error("subscribe failed", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    503,
			"message": "event bus unavailable",
		})
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := m.seq.Add(1)
	m.connections.Store(connID, conn)
	m.logger.Info("websocket connected", zap.Uint64("conn_id", connID), zap.String("session_id", sessionID))

	closed := make(chan struct{})
	defer func() {
		m.connections.Delete(connID)
		conn.Close()
		m.logger.Info("websocket closed", zap.Uint64("conn_id", connID))
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// 读循环只用于感知客户端断开
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(ev)
			if err != nil {
				m.logger.Warn("websocket write failed", zap.Uint64("conn_id", connID), zap.Error(err))
				return
			}
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		}
	}
}

// GetConnectionCount 获取当前连接数
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
