package core

import (
	"context"
	"io"
	"strings"
	"sync"

	"messages-gateway/core/adapter"
	"messages-gateway/models"
)

// fakeBackend 测试用后端
type fakeBackend struct {
	name    string
	resp    *models.ChatCompletionResponse
	err     error
	frames  string
	list    []models.ModelInfo
	listErr error

	mutex sync.Mutex
	calls []models.ChatCompletionRequest
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) record(req *models.ChatCompletionRequest) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, *req)
}

func (f *fakeBackend) lastCall() models.ChatCompletionRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeBackend) ChatCompletion(_ context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeBackend) StreamChatCompletion(_ context.Context, req *models.ChatCompletionRequest) (*adapter.Stream, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	return adapter.NewStream(io.NopCloser(strings.NewReader(f.frames)), nil), nil
}

func (f *fakeBackend) ListModels(context.Context) ([]models.ModelInfo, error) {
	return f.list, f.listErr
}

// sseFrames 拼接 data 帧
func sseFrames(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: ")
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

type rejectAll struct{}

func (rejectAll) Await(context.Context, string) error { return ErrRequestRejected }
