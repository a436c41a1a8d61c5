package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Anthropic Messages 协议类型.
// 内容块与流式事件均为带标签的变体: 每个变体一个结构体, 序列化时补上 "type" 字段.

const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock Anthropic 内容块
type ContentBlock interface {
	BlockType() string
}

// TextBlock 文本块
type TextBlock struct {
	Text string
}

func (TextBlock) BlockType() string { return BlockTypeText }

func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{BlockTypeText, b.Text})
}

// ImageSource 图片来源
type ImageSource struct {
	Type      string `json:"type"` // "base64" 或 "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ImageBlock 图片块
type ImageBlock struct {
	Source ImageSource
}

func (ImageBlock) BlockType() string { return BlockTypeImage }

func (b ImageBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string      `json:"type"`
		Source ImageSource `json:"source"`
	}{BlockTypeImage, b.Source})
}

// ToolUseBlock 工具调用块, Input 为 JSON 对象
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func (ToolUseBlock) BlockType() string { return BlockTypeToolUse }

func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	input := b.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return json.Marshal(struct {
		Type  string          `json:"type"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}{BlockTypeToolUse, b.ID, b.Name, input})
}

// ToolResultBlock 工具结果块
type ToolResultBlock struct {
	ToolUseID string
	Content   Blocks
	IsError   bool
}

func (ToolResultBlock) BlockType() string { return BlockTypeToolResult }

func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		ToolUseID string `json:"tool_use_id"`
		Content   Blocks `json:"content,omitempty"`
		IsError   bool   `json:"is_error,omitempty"`
	}{BlockTypeToolResult, b.ToolUseID, b.Content, b.IsError})
}

// UnknownBlock 未识别的块 (thinking, document 等), 保留原始 JSON
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (b UnknownBlock) BlockType() string { return b.Type }

func (b UnknownBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) == 0 {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{b.Type})
	}
	return b.Raw, nil
}

// Blocks 内容块序列. 解码时接受字符串 (视为单个文本块) 或块数组.
type Blocks []ContentBlock

func (b *Blocks) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = nil
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*b = Blocks{TextBlock{Text: s}}
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}

	out := make(Blocks, 0, len(raws))
	for i, raw := range raws {
		blk, err := decodeBlock(raw)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, blk)
	}
	*b = out
	return nil
}

func decodeBlock(raw json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case BlockTypeText:
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return TextBlock{Text: v.Text}, nil
	case BlockTypeImage:
		var v struct {
			Source ImageSource `json:"source"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ImageBlock{Source: v.Source}, nil
	case BlockTypeToolUse:
		var v struct {
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ToolUseBlock{ID: v.ID, Name: v.Name, Input: v.Input}, nil
	case BlockTypeToolResult:
		var v struct {
			ToolUseID string `json:"tool_use_id"`
			Content   Blocks `json:"content"`
			IsError   bool   `json:"is_error"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ToolResultBlock{ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError}, nil
	case "":
		return nil, fmt.Errorf("content block without type")
	default:
		kept := make(json.RawMessage, len(raw))
		copy(kept, raw)
		return UnknownBlock{Type: head.Type, Raw: kept}, nil
	}
}

// Message Anthropic 消息
type Message struct {
	Role    string `json:"role"` // "user" 或 "assistant"
	Content Blocks `json:"content"`
}

// ToolDef 工具定义
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolChoice 工具选择, 兼容 "auto" 这类字符串写法
type ToolChoice struct {
	Type                   string `json:"type"` // auto, any, tool, none
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*t = ToolChoice{Type: s}
		return nil
	}
	type plain ToolChoice
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*t = ToolChoice(p)
	return nil
}

// Metadata 请求元数据
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesRequest Anthropic Messages 请求
type MessagesRequest struct {
	Model         string      `json:"model"`
	System        Blocks      `json:"system,omitempty"`
	Messages      []Message   `json:"messages"`
	MaxTokens     *int        `json:"max_tokens,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	Stream        bool        `json:"stream,omitempty"`
	Temperature   *float64    `json:"temperature,omitempty"`
	TopP          *float64    `json:"top_p,omitempty"`
	TopK          *int        `json:"top_k,omitempty"`
	Tools         []ToolDef   `json:"tools,omitempty"`
	ToolChoice    *ToolChoice `json:"tool_choice,omitempty"`
	Metadata      *Metadata   `json:"metadata,omitempty"`
}

// Usage token 统计
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse Anthropic Messages 响应
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // "message"
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// CountTokensResponse count_tokens 响应
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ErrorResponse Anthropic 错误响应
type ErrorResponse struct {
	Type  string      `json:"type"` // 固定 "error"
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(kind, message string) ErrorResponse {
	return ErrorResponse{Type: "error", Error: ErrorDetail{Type: kind, Message: message}}
}
