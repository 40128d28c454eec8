package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"vscan/internal/models"
	"vscan/internal/utils"
)

// Wallet 获取钱包状态
func (h *SessionHandler) Wallet(c *gin.Context) {
	state, err := h.sessions.WalletState(c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	models.Success(c, state)
}

// ConnectWallet 连接钱包, 无钱包提供方时返回不可用状态而非错误
func (h *SessionHandler) ConnectWallet(c *gin.Context) {
	state, err := h.sessions.ConnectWallet(c.Request.Context(), c.Param("id"))
	if errors.Is(err, utils.ErrSessionNotFound) {
		h.fail(c, err, nil)
		return
	}
	if err != nil {
		code, message := mapErrorToHTTPStatus(err)
		models.ErrorWithData(c, code, message, state)
		return
	}
	models.Success(c, state)
}

// DisconnectWallet 断开钱包
func (h *SessionHandler) DisconnectWallet(c *gin.Context) {
	state, err := h.sessions.DisconnectWallet(c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	models.Success(c, state)
}
