package core

import (
	"encoding/json"
	"strings"
	"sync"

	"messages-gateway/models"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

const (
	tokensPerMessage = 3
	tokensReplyPrime = 3
)

// TokenCounter 估算 OpenAI 请求的输入 token 数
type TokenCounter struct {
	codecs sync.Map // string -> tokenizer.Codec
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count 统计消息文本、工具调用和工具定义的 token 数
func (c *TokenCounter) Count(req models.ChatCompletionRequest) int {
	data, err := json.Marshal(req)
	if err != nil {
		return 0
	}
	codec := c.codecFor(req.Model)
	count := func(s string) int {
		if s == "" {
			return 0
		}
		if codec != nil {
			if ids, _, err := codec.Encode(s); err == nil {
				return len(ids)
			}
		}
		return (len(s) + 3) / 4
	}

	total := 0
	gjson.GetBytes(data, "messages").ForEach(func(_, msg gjson.Result) bool {
		total += tokensPerMessage
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			total += count(content.String())
		case content.IsArray():
			content.ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "text" {
					total += count(part.Get("text").String())
				}
				return true
			})
		}
		msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			total += count(call.Get("function.name").String())
			total += count(call.Get("function.arguments").String())
			return true
		})
		return true
	})

	if tools := gjson.GetBytes(data, "tools"); tools.Exists() && tools.IsArray() {
		total += count(tools.Raw)
	}
	return total + tokensReplyPrime
}

func (c *TokenCounter) codecFor(model string) tokenizer.Codec {
	key := encodingKey(model)
	if v, ok := c.codecs.Load(key); ok {
		codec, _ := v.(tokenizer.Codec)
		return codec
	}

	var (
		codec tokenizer.Codec
		err   error
	)
	switch key {
	case "gpt-4o":
		codec, err = tokenizer.ForModel(tokenizer.GPT4o)
	case "gpt-4":
		codec, err = tokenizer.ForModel(tokenizer.GPT4)
	case "gpt-3.5":
		codec, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		codec, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		// 失败时缓存 nil，回退到 len/4
		codec = nil
	}
	v, _ := c.codecs.LoadOrStore(key, codec)
	codec, _ = v.(tokenizer.Codec)
	return codec
}

// encodingKey 按模型名前缀选择编码
func encodingKey(model string) string {
	m := strings.ToLower(strings.TrimPrefix(model, "azure_openai_"))
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "gpt-4o"
	case strings.HasPrefix(m, "gpt-4"):
		return "gpt-4"
	case strings.HasPrefix(m, "gpt-3.5"):
		return "gpt-3.5"
	}
	return "o200k"
}
