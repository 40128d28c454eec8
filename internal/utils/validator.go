package utils

import (
	"net/url"
	"strings"
)

// ParseURL 解析URL, 必须带协议和host才算成功
func ParseURL(rawURL string) (*url.URL, bool) {
	if rawURL == "" {
		return nil, false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}

	// 必须有协议和host
	if u.Scheme == "" || u.Host == "" {
		return nil, false
	}

	return u, true
}

// TrimURL 去除首尾空白
func TrimURL(rawURL string) string {
	return strings.TrimSpace(rawURL)
}
