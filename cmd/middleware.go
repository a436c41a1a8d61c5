package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"messages-gateway/core"
	"messages-gateway/core/utils"
	"messages-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware 生成或透传请求 ID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(core.RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestLoggerMiddleware 访问日志 + HTTP 指标
func requestLoggerMiddleware(log *logrus.Logger, metrics *core.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// 读取请求体，以便错误时记录；随后重新设置给后续处理器
		var bodyBytes []byte
		if c.Request.Body != nil && c.Request.Method == http.MethodPost {
			var err error
			bodyBytes, err = io.ReadAll(c.Request.Body)
			c.Request.Body.Close()
			if err != nil {
				log.Errorf("Failed to read request body: %v", err)
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, status, latency)

		fields := logrus.Fields{
			"request_id": c.GetString(core.RequestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    latency.Round(time.Millisecond).String(),
			"client_ip":  c.ClientIP(),
		}
		if status >= 400 && len(bodyBytes) > 0 {
			// 限制请求体日志长度，避免日志过大
			fields["request_body"] = utils.Truncate(string(bodyBytes), 1000)
			fields["body_size"] = len(bodyBytes)
		}

		entry := log.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		case c.Request.URL.Path == "/health":
			entry.Debug("Request processed")
		default:
			entry.Info("Request processed")
		}
	}
}

// recoveryMiddleware 捕获 panic，返回 Anthropic 格式的 500
func recoveryMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		log.WithFields(logrus.Fields{
			"request_id": c.GetString(core.RequestIDKey),
			"path":       c.Request.URL.Path,
		}).Errorf("💥 panic recovered: %v", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.NewErrorResponse("api_error", "internal server error"))
	})
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, Anthropic-Version, Anthropic-Beta, X-Request-Id")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// maxBodyMiddleware 限制请求体大小
func maxBodyMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// client 包装限流器及其最后访问时间
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 带有自动清理机制的 IP 限流器
type IPRateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	idle    time.Duration
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   b,
		idle:    3 * time.Minute,
	}
}

// GetLimiter 获取或创建 IP 对应的限流器，并更新访问时间
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	c, exists := i.clients[ip]
	if !exists {
		c = &client{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.clients[ip] = c
	}

	c.lastSeen = time.Now()
	return c.limiter
}

// Run 每分钟清理一次超过 idle 未活跃的 IP，直到 ctx 结束
func (i *IPRateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			i.cleanup(time.Now())
		}
	}
}

func (i *IPRateLimiter) cleanup(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, c := range i.clients {
		if now.Sub(c.lastSeen) > i.idle {
			delete(i.clients, ip)
		}
	}
}

// Middleware IP 限流中间件
func (i *IPRateLimiter) Middleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !i.GetLimiter(clientIP).Allow() {
			log.Warnf("Rate limit exceeded for IP: %s", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.NewErrorResponse("rate_limit_error", "Too Many Requests"))
			return
		}
		c.Next()
	}
}
