package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vscan/internal/analyzer"
	"vscan/internal/models"
	"vscan/internal/render"
	"vscan/internal/service"
	"vscan/internal/utils"
)

// SessionHandler 会话处理器
type SessionHandler struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Create 创建会话
func (h *SessionHandler) Create(c *gin.Context) {
	models.Created(c, h.sessions.Create(c.Request.Context()))
}

// Get 获取会话快照
func (h *SessionHandler) Get(c *gin.Context) {
	snap, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	models.Success(c, snap)
}

// Preview 预览视频
func (h *SessionHandler) Preview(c *gin.Context) {
	var req models.URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.BadRequest(c, "invalid request body")
		return
	}

	snap, err := h.sessions.Preview(c.Request.Context(), c.Param("id"), req.URL)
	if err != nil {
		h.fail(c, err, &snap)
		return
	}
	models.Success(c, snap)
}

// PreviewSample 预览预置示例
func (h *SessionHandler) PreviewSample(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		models.BadRequest(c, "sample index must be an integer")
		return
	}

	snap, err := h.sessions.PreviewSample(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		h.fail(c, err, &snap)
		return
	}
	models.Success(c, snap)
}

// Analyze 发起分析, wait 为 true 时等待结果
func (h *SessionHandler) Analyze(c *gin.Context) {
	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.BadRequest(c, "invalid request body")
		return
	}

	ticket, err := h.sessions.Analyze(c.Request.Context(), c.Param("id"), req.URL)
	if err != nil {
		h.fail(c, err, nil)
		return
	}

	if !req.Wait {
		models.Accepted(c, ticket)
		return
	}

	set, err := ticket.Wait(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	models.Success(c, newAnalyzeResponse(ticket.ID, ticket.URL, set))
}

// Reset 重置会话
func (h *SessionHandler) Reset(c *gin.Context) {
	snap, err := h.sessions.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	models.Success(c, snap)
}

// fail 输出错误响应, 预览类错误同时返回会话快照
func (h *SessionHandler) fail(c *gin.Context, err error, snap *service.Snapshot) {
	code, message := mapErrorToHTTPStatus(err)
	if code >= 500 {
		h.logger.Error("session request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	if snap != nil && snap.ID != "" && !errors.Is(err, utils.ErrSessionNotFound) {
		models.ErrorWithData(c, code, message, snap)
		return
	}

	switch code {
	case http.StatusNotFound:
		models.NotFound(c, message)
	case http.StatusInternalServerError:
		models.InternalError(c, message)
	default:
		models.Error(c, code, message)
	}
}

func newAnalyzeResponse(analysisID, url string, set analyzer.DetectionSet) models.AnalyzeResponse {
	return models.AnalyzeResponse{
		AnalysisID: analysisID,
		URL:        url,
		Seed:       analyzer.Seed(url),
		Detections: set,
		Results:    render.Results(set),
	}
}
