package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"messages-gateway/config"
	"messages-gateway/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, keys []string, handler http.HandlerFunc) *OpenAIBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return NewOpenAIBackend(config.PrimaryConfig{
		BaseURL:  srv.URL + "/v1/",
		APIKeys:  keys,
		Timeout:  5 * time.Second,
		Cooldown: time.Minute,
	}, srv.Client(), logger)
}

func TestOpenAIChatCompletion(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody models.ChatCompletionRequest
	backend := newTestOpenAI(t, []string{"sk-one"}, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`)
	})

	resp, err := backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []models.ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-one", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	assert.Equal(t, "c1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi", resp.Choices[0].Message.StringContent())
	assert.Equal(t, 3, resp.Usage.PromptTokens)
}

func TestOpenAIRotatesKeys(t *testing.T) {
	tests := []struct {
		name       string
		failStatus int
		header     http.Header
		wantStatus KeyStatusType
	}{
		{name: "429 cools down", failStatus: http.StatusTooManyRequests, header: http.Header{"Retry-After": {"30"}}, wantStatus: KeyStatusCooldown},
		{name: "401 marks dead", failStatus: http.StatusUnauthorized, wantStatus: KeyStatusDead},
		{name: "503 keeps key", failStatus: http.StatusServiceUnavailable, wantStatus: KeyStatusAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			var seen []string
			backend := newTestOpenAI(t, []string{"sk-bad", "sk-good"}, func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				seen = append(seen, r.Header.Get("Authorization"))
				mu.Unlock()
				if r.Header.Get("Authorization") == "Bearer sk-bad" {
					for k, v := range tt.header {
						w.Header()[k] = v
					}
					w.WriteHeader(tt.failStatus)
					_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
					return
				}
				_, _ = io.WriteString(w, `{"id":"ok","choices":[]}`)
			})

			resp, err := backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m"})
			require.NoError(t, err)
			assert.Equal(t, "ok", resp.ID)
			assert.Equal(t, []string{"Bearer sk-bad", "Bearer sk-good"}, seen)
			assert.Equal(t, tt.wantStatus, backend.Keys().Status("sk-bad"))
		})
	}
}

func TestOpenAIDoesNotRetryBadRequest(t *testing.T) {
	calls := 0
	backend := newTestOpenAI(t, []string{"a", "b"}, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"max_tokens too large","type":"invalid_request_error"}}`)
	})

	_, err := backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
	assert.Equal(t, "max_tokens too large", upErr.Message())
	assert.Equal(t, 1, calls)
}

func TestOpenAIAllKeysExhausted(t *testing.T) {
	backend := newTestOpenAI(t, []string{"a", "b"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusTooManyRequests, upErr.StatusCode)

	// both keys now cooling down
	_, err = backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, ErrNoAvailableKey)
	assert.Equal(t, http.StatusServiceUnavailable, upErr.StatusCode)
}

func TestOpenAIWithoutKeys(t *testing.T) {
	var gotAuth string
	backend := newTestOpenAI(t, nil, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
	})

	_, err := backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestOpenAIStream(t *testing.T) {
	backend := newTestOpenAI(t, []string{"k"}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"id\":\"s\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	stream, err := backend.StreamChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m", Stream: true})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Contains(t, ev.Data, `"content":"Hi"`)

	ev, err = stream.Next()
	require.NoError(t, err)
	assert.True(t, ev.IsDone())

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestOpenAITransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	logger, _ := test.NewNullLogger()
	backend := NewOpenAIBackend(config.PrimaryConfig{BaseURL: srv.URL}, nil, logger)

	_, err := backend.ChatCompletion(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Zero(t, upErr.StatusCode)
	assert.Error(t, errors.Unwrap(upErr))
}

func TestOpenAIListModels(t *testing.T) {
	backend := newTestOpenAI(t, []string{"k"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[
			{"id":"gpt-4o","owned_by":"openai","name":"GPT-4o"},
			{"id":"claude-sonnet","vendor":"anthropic"},
			{"owned_by":"nobody"}
		]}`)
	})

	list, err := backend.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.ModelInfo{
		{ID: "gpt-4o", OwnedBy: "openai", DisplayName: "GPT-4o"},
		{ID: "claude-sonnet", OwnedBy: "anthropic", DisplayName: "claude-sonnet"},
	}, list)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, retryAfter("5", now))
	assert.Equal(t, time.Duration(0), retryAfter("", now))
	assert.Equal(t, time.Duration(0), retryAfter("-3", now))
	assert.Equal(t, time.Duration(0), retryAfter("soon", now))
	assert.Equal(t, 10*time.Second, retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
}

func TestUpstreamErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  UpstreamError
		want string
	}{
		{"openai shape", UpstreamError{StatusCode: 400, Body: `{"error":{"message":"bad"}}`}, "bad"},
		{"flat message", UpstreamError{StatusCode: 400, Body: `{"message":"flat"}`}, "flat"},
		{"plain text", UpstreamError{StatusCode: 502, Body: " gateway down \n"}, "gateway down"},
		{"empty body", UpstreamError{StatusCode: 503}, "Service Unavailable"},
		{"transport", UpstreamError{Err: errors.New("dial tcp: refused")}, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Message())
		})
	}
	assert.True(t, strings.HasPrefix((&UpstreamError{Backend: "openai", StatusCode: 400, Body: "x"}).Error(), "openai: upstream returned 400"))
}
