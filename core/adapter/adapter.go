package adapter

import (
	"context"
	"io"
	"sync"

	"messages-gateway/core/sse"
	"messages-gateway/models"
)

// Backend 定义 OpenAI chat-completions 兼容后端的接口
type Backend interface {
	// Name 返回后端名称，如 "openai", "azure"
	Name() string

	// ChatCompletion 发送非流式请求
	ChatCompletion(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error)

	// StreamChatCompletion 发送流式请求，调用方负责 Close
	StreamChatCompletion(ctx context.Context, req *models.ChatCompletionRequest) (*Stream, error)

	// ListModels 列出后端可用模型
	ListModels(ctx context.Context) ([]models.ModelInfo, error)
}

// Stream is an open upstream SSE response.
type Stream struct {
	reader *sse.Reader
	body   io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

// NewStream takes ownership of body. cancel may be nil.
func NewStream(body io.ReadCloser, cancel context.CancelFunc) *Stream {
	return &Stream{reader: sse.NewReader(body), body: body, cancel: cancel}
}

// Next returns the next frame or io.EOF.
func (s *Stream) Next() (sse.Event, error) {
	return s.reader.Next()
}

// Close releases the upstream connection. Safe to call more than once and
// from another goroutine to unblock a pending Next.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		err = s.body.Close()
	})
	return err
}
