package handler

import (
	"github.com/gin-gonic/gin"

	"vscan/internal/models"
	"vscan/internal/render"
	"vscan/internal/service"
	"vscan/internal/utils"
)

// AnalyzeHandler 无状态的分类与分析接口
type AnalyzeHandler struct {
	sessions *service.SessionService
}

// NewAnalyzeHandler 创建处理器
func NewAnalyzeHandler(sessions *service.SessionService) *AnalyzeHandler {
	return &AnalyzeHandler{sessions: sessions}
}

// Classify 只做URL分类
func (h *AnalyzeHandler) Classify(c *gin.Context) {
	url := utils.TrimURL(c.Query("url"))
	if url == "" {
		models.BadRequest(c, utils.StatusMessage(utils.ErrEmptyURL))
		return
	}

	cls := h.sessions.Classify(url)
	models.Success(c, models.ClassifyResponse{
		URL:            url,
		Classification: cls,
		Preview:        render.Preview(h.sessions.Detector(), cls, url),
	})
}

// Analyze 立即返回模拟分析结果
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	url := utils.TrimURL(c.Query("url"))
	if url == "" {
		models.BadRequest(c, utils.StatusMessage(utils.ErrEmptyURL))
		return
	}

	models.Success(c, newAnalyzeResponse("", url, h.sessions.AnalyzeURL(url)))
}

// Samples 预置示例列表
func (h *AnalyzeHandler) Samples(c *gin.Context) {
	samples := h.sessions.Samples()
	out := make([]models.SampleResponse, len(samples))
	for i, s := range samples {
		out[i] = models.SampleResponse{Index: i, Name: s.Name, URL: s.URL}
	}
	models.Success(c, out)
}
