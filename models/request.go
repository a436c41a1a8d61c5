package models

import (
	"encoding/json"
	"strings"
)

// ChatCompletionRequest OpenAI 聊天请求 (发往上游)
type ChatCompletionRequest struct {
	Model             string         `json:"model"`
	Messages          []ChatMessage  `json:"messages"`
	Stream            bool           `json:"stream,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	TopP              *float64       `json:"top_p,omitempty"`
	StreamOptions     *StreamOptions `json:"stream_options,omitempty"`
	Stop              []string       `json:"stop,omitempty"`
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	User              string         `json:"user,omitempty"`
	Tools             []ChatTool     `json:"tools,omitempty"`
	ToolChoice        interface{}    `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool          `json:"parallel_tool_calls,omitempty"`
}

// ChatMessage 聊天消息
// Content 为 string、[]ContentPart 或 nil (序列化为 null)
type ChatMessage struct {
	Role       string         `json:"role,omitempty"`
	Content    interface{}    `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
}

// ContentPart 多模态内容片段
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 图片地址 (data URI 或 http URL)
type ImageURL struct {
	URL string `json:"url"`
}

// ChatTool 工具定义
type ChatTool struct {
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction 工具函数
type ChatToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ChatToolCall 工具调用
// 流式分片中 Index 标识同一个调用, ID/Name 只在首个分片出现
type ChatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ChatToolCallFunc `json:"function"`
}

// ChatToolCallFunc 工具调用函数
type ChatToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// StreamOptions 流式选项
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionResponse OpenAI 聊天响应, 流式分片 (chunk) 共用此结构
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object,omitempty"`
	Created int64                  `json:"created,omitempty"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// ChatCompletionChoice 聊天选择
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	Delta        ChatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionUsage 使用统计
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelInfo 后端返回的模型条目 (主后端模型或 Azure 部署)
type ModelInfo struct {
	ID          string
	OwnedBy     string
	DisplayName string
	Created     int64
}

// ModelEntry /v1/models 输出条目
type ModelEntry struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Type        string `json:"type"`
	Created     int64  `json:"created"`
	CreatedAt   string `json:"created_at"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name"`
}

// ModelsListResponse /v1/models 响应
type ModelsListResponse struct {
	Object  string       `json:"object"`
	Data    []ModelEntry `json:"data"`
	HasMore bool         `json:"has_more"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string   `json:"status"`
	Backends  []string `json:"backends"`
	Timestamp int64    `json:"timestamp"`
}

// MaskAPIKey 脱敏API Key
func MaskAPIKey(key string) string {
	if key == "" {
		return "***"
	}

	if len(key) <= 4 {
		return key[:1] + "***"
	}

	if len(key) <= 8 {
		return key[:2] + "***" + key[len(key)-2:]
	}

	return key[:3] + "***" + key[len(key)-4:]
}

// StringContent 从ChatMessage.Content提取字符串内容
// 支持普通字符串和多模态数组格式
func (m *ChatMessage) StringContent() string {
	switch v := m.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []ContentPart:
		var parts []string
		for _, p := range v {
			if p.Type == "text" {
				parts = append(parts, p.Text)
			}
		}
		return strings.Join(parts, "")
	case []interface{}:
		// 上游解码结果 [{"type": "text", "text": "..."}, ...]
		var result strings.Builder
		for _, item := range v {
			itemMap, ok := item.(map[string]interface{})
			if !ok || itemMap["type"] != "text" {
				continue
			}
			if text, ok := itemMap["text"].(string); ok {
				result.WriteString(text)
			}
		}
		return result.String()
	}

	if jsonBytes, err := json.Marshal(m.Content); err == nil {
		return string(jsonBytes)
	}
	return ""
}
