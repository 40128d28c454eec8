package probe

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"vscan/internal/utils"
)

// Prober 媒体资源可播放性检查
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber 通过HTTP请求检查媒体资源
type HTTPProber struct {
	client *http.Client
}

// maxRedirects 最多跟随的重定向次数
const maxRedirects = 3

// errBlockedAddress 目标地址属于内网或本机
var errBlockedAddress = errors.New("destination address is not allowed")

// cgnatRange 运营商级 NAT 地址段
var cgnatRange = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// NewHTTPProber 创建HTTP检查器, allowPrivate 为 false 时拒绝连接本机与内网地址
func NewHTTPProber(timeout time.Duration, allowPrivate bool) *HTTPProber {
	dialer := &net.Dialer{Timeout: timeout}
	if !allowPrivate {
		// 在 DNS 解析之后、建立连接之前检查实际地址
		dialer.Control = func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if IsBlockedIP(net.ParseIP(host)) {
				return fmt.Errorf("%w: %s", errBlockedAddress, host)
			}
			return nil
		}
	}

	transport := &http.Transport{
		Proxy:               nil, // 环境代理会绕过地址检查
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        16,
		IdleConnTimeout:     30 * time.Second,
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if !allowedScheme(req.URL) {
					return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
				}
				return nil
			},
		},
	}
}

// IsBlockedIP 本机、内网、链路本地、组播及未指定地址
func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		cgnatRange.Contains(ip)
}

func allowedScheme(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// manifestTypes 流媒体清单类型
var manifestTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"application/dash+xml":          true,
	"application/octet-stream":      true,
}

// Probe 检查URL是否指向可解码的媒体资源
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	u, ok := utils.ParseURL(url)
	if !ok || !allowedScheme(u) {
		return fmt.Errorf("%w: %v", utils.ErrMediaLoad, utils.ErrInvalidURL)
	}

	resp, err := p.do(ctx, http.MethodHead, url)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		// 部分服务器不支持HEAD, 改用只取首字节的GET
		resp, err = p.do(ctx, http.MethodGet, url)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrMediaLoad, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", utils.ErrMediaLoad, resp.StatusCode)
	}

	if !IsMediaType(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: unsupported content type %q", utils.ErrMediaLoad, resp.Header.Get("Content-Type"))
	}

	return nil
}

func (p *HTTPProber) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, nil
}

// IsMediaType 判断Content-Type是否为可播放的媒体
func IsMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)

	if strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "audio/") {
		return true
	}
	return manifestTypes[mediaType]
}
