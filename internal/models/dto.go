package models

import (
	"vscan/internal/analyzer"
	"vscan/internal/detector"
	"vscan/internal/render"
)

// URLRequest 预览请求
type URLRequest struct {
	URL string `json:"url"`
}

// AnalyzeRequest 分析请求
type AnalyzeRequest struct {
	URL  string `json:"url"`
	Wait bool   `json:"wait"` // 为 true 时等待结果返回
}

// ClassifyResponse 分类响应
type ClassifyResponse struct {
	URL            string                  `json:"url"`
	Classification detector.Classification `json:"classification"`
	Preview        render.PreviewView      `json:"preview"`
}

// AnalyzeResponse 分析响应
type AnalyzeResponse struct {
	AnalysisID string                `json:"analysis_id,omitempty"`
	URL        string                `json:"url"`
	Seed       int32                 `json:"seed"`
	Detections analyzer.DetectionSet `json:"detections"`
	Results    render.ResultView     `json:"results"`
}

// SampleResponse 预置示例
type SampleResponse struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}
