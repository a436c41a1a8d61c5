package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"messages-gateway/config"
	"messages-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const userAgent = "Messages-Gateway/1.0"

// OpenAIBackend 主后端 (OpenAI chat-completions 协议)
type OpenAIBackend struct {
	baseURL    string
	modelsPath string
	timeout    time.Duration
	cooldown   time.Duration

	pool   *KeyPool
	client *http.Client
	logger logrus.FieldLogger
}

func NewOpenAIBackend(cfg config.PrimaryConfig, client *http.Client, logger logrus.FieldLogger) *OpenAIBackend {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	modelsPath := cfg.ModelsPath
	if modelsPath == "" {
		modelsPath = "/models"
	}
	return &OpenAIBackend{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		modelsPath: "/" + strings.TrimPrefix(modelsPath, "/"),
		timeout:    cfg.Timeout,
		cooldown:   cfg.Cooldown,
		pool:       NewKeyPool(cfg.APIKeys),
		client:     client,
		logger:     logger.WithField("backend", "openai"),
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

// Keys exposes the key pool for health reporting.
func (b *OpenAIBackend) Keys() *KeyPool { return b.pool }

func (b *OpenAIBackend) ChatCompletion(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &UpstreamError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// StreamChatCompletion 流式请求不设置整体超时，依靠 Context 取消和连接空闲超时
func (b *OpenAIBackend) StreamChatCompletion(ctx context.Context, req *models.ChatCompletionRequest) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := b.send(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	return NewStream(resp.Body, cancel), nil
}

// send 依次尝试可用 Key，直到成功或遇到不可重试的错误。
// 只有在上游返回 2xx 之前才会重试，一旦返回响应体就交给调用方。
func (b *OpenAIBackend) send(ctx context.Context, req *models.ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	target := b.baseURL + "/chat/completions"

	attempts := b.pool.Len()
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		key := ""
		if b.pool.Len() > 0 {
			key, err = b.pool.Next()
			if err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, &UpstreamError{Backend: b.Name(), StatusCode: http.StatusServiceUnavailable, Err: err}
			}
		}

		resp, err := b.do(ctx, http.MethodPost, target, key, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &UpstreamError{Backend: b.Name(), Err: err}
			}
			b.logger.Warnf("⚠️ Attempt %d/%d Failed: Network error - %v", attempt, attempts, err)
			lastErr = &UpstreamError{Backend: b.Name(), Err: err}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if attempt > 1 {
				b.logger.Infof("✅ Success after %d attempts (Key: %s)", attempt, models.MaskAPIKey(key))
			}
			return resp, nil
		}

		upErr := newStatusError(b.Name(), resp)
		b.penalize(key, resp)
		b.logger.Warnf("⚠️ Attempt %d/%d Failed: %d (Key: %s) - %s",
			attempt, attempts, upErr.StatusCode, models.MaskAPIKey(key), upErr.Message())
		if !upErr.Retryable() {
			return nil, upErr
		}
		lastErr = upErr
	}

	b.logger.Errorf("💀 Failed: All %d attempts exhausted", attempts)
	return nil, lastErr
}

// penalize 根据状态码更新 Key 状态
func (b *OpenAIBackend) penalize(key string, resp *http.Response) {
	if key == "" {
		return
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		d := retryAfter(resp.Header.Get("Retry-After"), time.Now())
		if d <= 0 {
			d = b.cooldown
		}
		b.pool.MarkCooldown(key, d)
		b.logger.Infof("🧊 Key %s cooling down for %s", models.MaskAPIKey(key), d)
	case http.StatusUnauthorized, http.StatusForbidden:
		b.pool.MarkDead(key)
		b.logger.Warnf("💀 Key %s marked dead (%d)", models.MaskAPIKey(key), resp.StatusCode)
	}
}

func (b *OpenAIBackend) do(ctx context.Context, method, target, key string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("User-Agent", userAgent)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return b.client.Do(req)
}

// ListModels 拉取主后端模型列表，兼容 owned_by / vendor 和 name 字段
func (b *OpenAIBackend) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	key := ""
	if b.pool.Len() > 0 {
		k, err := b.pool.Next()
		if err != nil {
			return nil, &UpstreamError{Backend: b.Name(), StatusCode: http.StatusServiceUnavailable, Err: err}
		}
		key = k
	}

	resp, err := b.do(ctx, http.MethodGet, b.baseURL+b.modelsPath, key, nil)
	if err != nil {
		return nil, &UpstreamError{Backend: b.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(b.Name(), resp)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	if !gjson.ValidBytes(data) {
		return nil, &UpstreamError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: errors.New("models response is not JSON")}
	}

	var out []models.ModelInfo
	gjson.GetBytes(data, "data").ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		owner := m.Get("owned_by").String()
		if owner == "" {
			owner = m.Get("vendor").String()
		}
		name := m.Get("name").String()
		if name == "" {
			name = id
		}
		out = append(out, models.ModelInfo{ID: id, OwnedBy: owner, DisplayName: name})
		return true
	})
	return out, nil
}

// retryAfter 解析 Retry-After (秒数或 HTTP 日期)
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.Sub(now)
	}
	return 0
}
