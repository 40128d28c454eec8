package utils

import (
	"errors"
)

var (
	// URL相关错误
	ErrEmptyURL       = errors.New("video URL is empty")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrUnrecognizedID = errors.New("could not parse video ID from URL")

	// 媒体相关错误
	ErrMediaLoad = errors.New("failed to load media")

	// 会话相关错误
	ErrSessionNotFound   = errors.New("session not found")
	ErrSampleNotFound    = errors.New("sample not found")
	ErrAnalysisCancelled = errors.New("analysis cancelled")

	// 钱包相关错误
	ErrWalletRejected = errors.New("wallet request rejected")
	ErrInvalidAccount = errors.New("invalid wallet account")
)

// StatusMessage 将错误映射为展示在状态栏的文字
func StatusMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyURL):
		return "Please enter a video URL"
	case errors.Is(err, ErrUnrecognizedID):
		return "Could not parse video ID from URL"
	case errors.Is(err, ErrMediaLoad):
		return "Failed to load video"
	case errors.Is(err, ErrAnalysisCancelled):
		return "Analysis cancelled"
	default:
		return err.Error()
	}
}
