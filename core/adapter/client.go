package adapter

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient 创建后端共用的 HTTP Client
// 禁用全局超时，由 Request Context 控制；流式响应依赖 IdleConnTimeout 维护
func NewHTTPClient(responseHeaderTimeout time.Duration) *http.Client {
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 60 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			// 等待首字节的超时时间
			ResponseHeaderTimeout: responseHeaderTimeout,
		},
	}
}
