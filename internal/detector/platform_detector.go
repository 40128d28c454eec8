package detector

import (
	"regexp"
	"strings"

	"vscan/internal/utils"
)

// Kind 分类结果类型
type Kind string

const (
	KindPlatformEmbed  Kind = "platform-embed"
	KindDirectMedia    Kind = "direct-media"
	KindUnrecognizedID Kind = "unrecognized-id"
)

// Classification URL分类结果
type Classification struct {
	Kind     Kind   `json:"kind"`
	Platform string `json:"platform,omitempty"`
	ID       string `json:"id,omitempty"`
}

// platform 流媒体平台定义
type platform struct {
	name     string
	hosts    map[string]bool
	idRegexp *regexp.Regexp
	embedURL string
}

// PlatformDetector 平台检测器
type PlatformDetector struct {
	platforms []platform
}

// videoIDPattern 视频ID固定为11位
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// NewPlatformDetector 创建平台检测器
func NewPlatformDetector() *PlatformDetector {
	return &PlatformDetector{
		platforms: []platform{
			{
				name: "youtube",
				hosts: map[string]bool{
					"youtube.com":              true,
					"www.youtube.com":          true,
					"m.youtube.com":            true,
					"music.youtube.com":        true,
					"youtube-nocookie.com":     true,
					"www.youtube-nocookie.com": true,
					"youtu.be":                 true,
					"www.youtu.be":             true,
				},
				// watch?v=, embed/, v/, shorts/, live/, youtu.be/
				idRegexp: regexp.MustCompile(`(?i:youtube(?:-nocookie)?\.com/(?:watch\?(?:\S*?&)?v=|embed/|v/|shorts/|live/)|youtu\.be/)([A-Za-z0-9_-]{11})`),
				embedURL: "https://www.youtube.com/embed/",
			},
		},
	}
}

// Classify 对视频URL进行分类, 解析失败视为直接媒体地址, 不返回错误
func (d *PlatformDetector) Classify(rawURL string) Classification {
	rawURL = utils.TrimURL(rawURL)

	u, ok := utils.ParseURL(rawURL)
	if !ok {
		return Classification{Kind: KindDirectMedia}
	}

	host := strings.ToLower(u.Hostname())
	for _, p := range d.platforms {
		if !p.hosts[host] {
			continue
		}

		match := p.idRegexp.FindStringSubmatch(rawURL)
		if len(match) < 2 || !videoIDPattern.MatchString(match[1]) {
			return Classification{Kind: KindUnrecognizedID, Platform: p.name}
		}
		return Classification{Kind: KindPlatformEmbed, Platform: p.name, ID: match[1]}
	}

	return Classification{Kind: KindDirectMedia}
}

// EmbedURL 生成嵌入播放器地址
func (d *PlatformDetector) EmbedURL(c Classification) string {
	if c.Kind != KindPlatformEmbed {
		return ""
	}
	for _, p := range d.platforms {
		if p.name == c.Platform {
			return p.embedURL + c.ID
		}
	}
	return ""
}
