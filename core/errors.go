package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"messages-gateway/core/adapter"
	"messages-gateway/core/mapper"
	"messages-gateway/models"

	"github.com/gin-gonic/gin"
)

var (
	ErrAzureNotConfigured = errors.New("Azure OpenAI not configured")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrRequestRejected    = errors.New("request rejected")
)

// RateLimitedError carries the earliest time the next request is allowed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v, retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// Anthropic 错误类型
const (
	errInvalidRequest = "invalid_request_error"
	errAuthentication = "authentication_error"
	errPermission     = "permission_error"
	errNotFound       = "not_found_error"
	errRateLimit      = "rate_limit_error"
	errAPI            = "api_error"
	errOverloaded     = "overloaded_error"
)

// classify 将错误映射为 HTTP 状态码、错误类型和消息
func classify(err error) (int, string, string) {
	var (
		validation *mapper.ValidationError
		upstream   *adapter.UpstreamError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errInvalidRequest, validation.Error()
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errRateLimit, err.Error()
	case errors.Is(err, ErrRequestRejected):
		return http.StatusForbidden, errPermission, err.Error()
	case errors.Is(err, ErrAzureNotConfigured):
		return http.StatusInternalServerError, errAPI, ErrAzureNotConfigured.Error()
	case errors.As(err, &upstream):
		if upstream.StatusCode == 0 {
			return http.StatusBadGateway, errAPI, upstream.Message()
		}
		return upstream.StatusCode, errorTypeForStatus(upstream.StatusCode), upstream.Message()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errAPI, err.Error()
	}
	return http.StatusInternalServerError, errAPI, err.Error()
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return errAuthentication
	case status == http.StatusForbidden:
		return errPermission
	case status == http.StatusNotFound:
		return errNotFound
	case status == http.StatusTooManyRequests:
		return errRateLimit
	case status == 529 || status == http.StatusServiceUnavailable:
		return errOverloaded
	case status >= 400 && status < 500:
		return errInvalidRequest
	}
	return errAPI
}

// writeError 写入 Anthropic 格式的错误响应
func writeError(c *gin.Context, err error) (int, string) {
	status, kind, message := classify(err)
	var limited *RateLimitedError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int(limited.RetryAfter.Seconds()+0.999)))
	}
	c.AbortWithStatusJSON(status, models.NewErrorResponse(kind, message))
	return status, message
}
