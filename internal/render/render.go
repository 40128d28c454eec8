package render

import (
	"fmt"

	"vscan/internal/analyzer"
	"vscan/internal/detector"
	"vscan/internal/utils"
)

// 预览模式
const (
	ModeEmbed = "embed"
	ModeMedia = "media"
	ModeError = "error"
)

// NoDetectionsText 空结果时的展示文字
const NoDetectionsText = "no detections"

// ResultRow 结果面板中的一行
type ResultRow struct {
	Label      string `json:"label"`
	Start      string `json:"start"`
	Duration   string `json:"duration"`
	Confidence string `json:"confidence"`
}

// ResultView 结果面板
type ResultView struct {
	Empty bool        `json:"empty"`
	Text  string      `json:"text,omitempty"`
	Rows  []ResultRow `json:"rows,omitempty"`
}

// PreviewView 预览区域
type PreviewView struct {
	Mode    string `json:"mode"`
	Src     string `json:"src,omitempty"`
	Message string `json:"message,omitempty"`
}

// FormatTime 将秒数格式化为 m:ss
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Results 渲染识别结果
func Results(set analyzer.DetectionSet) ResultView {
	if len(set) == 0 {
		return ResultView{Empty: true, Text: NoDetectionsText}
	}

	rows := make([]ResultRow, 0, len(set))
	for _, d := range set {
		rows = append(rows, ResultRow{
			Label:      d.Label,
			Start:      FormatTime(d.StartSeconds),
			Duration:   fmt.Sprintf("%ds", d.DurationSeconds),
			Confidence: fmt.Sprintf("%d%%", d.Confidence),
		})
	}
	return ResultView{Rows: rows}
}

// Preview 根据分类结果渲染预览
func Preview(d *detector.PlatformDetector, c detector.Classification, rawURL string) PreviewView {
	switch c.Kind {
	case detector.KindPlatformEmbed:
		return PreviewView{Mode: ModeEmbed, Src: d.EmbedURL(c)}
	case detector.KindUnrecognizedID:
		return PreviewView{Mode: ModeError, Message: utils.StatusMessage(utils.ErrUnrecognizedID)}
	default:
		return PreviewView{Mode: ModeMedia, Src: rawURL}
	}
}
