package adapter

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoAvailableKey 所有 Key 都处于冷却或失效状态
var ErrNoAvailableKey = errors.New("no available api key")

const maxErrorBody = 2 << 10

// UpstreamError is a failed backend call. StatusCode is 0 for transport
// failures.
type UpstreamError struct {
	Backend    string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Backend, e.StatusCode, e.Message())
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Message 提取上游错误信息，优先使用 error.message 字段
func (e *UpstreamError) Message() string {
	if e.Body == "" {
		if e.Err != nil {
			return e.Err.Error()
		}
		return http.StatusText(e.StatusCode)
	}
	if msg := gjson.Get(e.Body, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	if msg := gjson.Get(e.Body, "message"); msg.Type == gjson.String {
		return msg.String()
	}
	return strings.TrimSpace(e.Body)
}

// Retryable reports whether another key might succeed.
func (e *UpstreamError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode == http.StatusUnauthorized,
		e.StatusCode == http.StatusForbidden:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// newStatusError drains and closes resp.Body.
func newStatusError(backend string, resp *http.Response) *UpstreamError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
