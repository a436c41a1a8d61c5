package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"messages-gateway/core/adapter"
	"messages-gateway/core/mapper"
	"messages-gateway/core/sse"
	"messages-gateway/core/utils"
	"messages-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// HandleMessages 处理 POST /v1/messages
// 顺序: 限流 -> 解析 -> 转换 -> 审批 -> 路由
func (h *Handler) HandleMessages(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	record := &models.RequestLog{
		CreatedAt: start,
		RequestID: c.GetString(RequestIDKey),
		IP:        c.ClientIP(),
	}
	entry := h.logger.WithField("request_id", record.RequestID)
	defer func() {
		record.Duration = time.Since(start).Milliseconds()
		h.requestLog.Log(record)
	}()

	fail := func(err error) {
		status, message := writeError(c, err)
		record.StatusCode = status
		record.ErrorMsg = utils.Truncate(message, 500)
		entry.Warnf("❌ %d %s", status, message)
	}

	// 1. 限流
	if err := h.rateLimit.Allow(ctx); err != nil {
		fail(err)
		return
	}

	// 2. 解析
	var req models.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(&mapper.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	record.Model = req.Model
	record.Stream = req.Stream
	entry = entry.WithFields(logrus.Fields{"model": req.Model, "stream": req.Stream})
	tr := h.translator.WithLogger(entry)

	// 3. 转换
	oreq, err := tr.RequestToOpenAI(req)
	if err != nil {
		fail(err)
		return
	}

	// 4. 审批
	if err := h.approver.Await(ctx, approvalSummary(record.RequestID, req)); err != nil {
		if errors.Is(err, context.Canceled) {
			record.StatusCode = 499
			record.ErrorMsg = "client closed request"
			return
		}
		fail(err)
		return
	}

	// 5. 路由
	backend, err := h.router.Resolve(oreq.Model)
	if err != nil {
		fail(err)
		return
	}
	record.Backend = backend.Name()
	entry = entry.WithField("backend", backend.Name())
	entry.Infof("🚀 Request: Model=%s | Backend=%s | Stream=%v", req.Model, backend.Name(), req.Stream)

	if req.Stream {
		h.streamMessages(c, tr, backend, &oreq, record, entry)
		return
	}

	resp, err := backend.ChatCompletion(ctx, &oreq)
	h.metrics.UpstreamRequest(backend.Name(), upstreamStatus(err))
	if err != nil {
		fail(err)
		return
	}

	out := tr.ResponseToAnthropic(*resp)
	record.StatusCode = http.StatusOK
	record.InputTokens = out.Usage.InputTokens
	record.OutputTokens = out.Usage.OutputTokens
	if out.StopReason != nil {
		record.StopReason = *out.StopReason
	}
	entry.Infof("✅ Success: stop=%s | in=%d out=%d | %s", record.StopReason, record.InputTokens, record.OutputTokens, time.Since(start).Round(time.Millisecond))
	c.JSON(http.StatusOK, out)
}

type frame struct {
	event sse.Event
	err   error
}

// streamMessages 将上游 OpenAI 流转换为 Anthropic 事件流
func (h *Handler) streamMessages(c *gin.Context, tr *mapper.Translator, backend adapter.Backend, oreq *models.ChatCompletionRequest, record *models.RequestLog, entry logrus.FieldLogger) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream, err := backend.StreamChatCompletion(ctx, oreq)
	h.metrics.UpstreamRequest(backend.Name(), upstreamStatus(err))
	if err != nil {
		// 尚未写出任何字节，返回 JSON 错误
		status, message := writeError(c, err)
		record.StatusCode = status
		record.ErrorMsg = utils.Truncate(message, 500)
		entry.Warnf("❌ %d %s", status, message)
		return
	}
	defer stream.Close()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	// 设置 SSE 头并立即刷新，防止客户端超时
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	record.StatusCode = http.StatusOK

	frames := make(chan frame)
	go func() {
		defer close(frames)
		for {
			ev, err := stream.Next()
			select {
			case frames <- frame{event: ev, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var (
		tick   <-chan time.Time
		ticker *time.Ticker
	)
	if h.keepAlive > 0 {
		ticker = time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	state := mapper.NewStreamState()
	clientGone := false
	emit := func(events []models.StreamEvent) {
		if clientGone {
			return
		}
		for _, ev := range events {
			if err := sse.WriteEvent(c.Writer, ev.EventType(), ev); err != nil {
				entry.Warnf("⚠️ Stream disconnected by client: %v", err)
				clientGone = true
				return
			}
			h.metrics.StreamEvent(ev.EventType())
		}
	}

loop:
	for !clientGone {
		select {
		case <-ctx.Done():
			entry.Warn("⚠️ Client cancelled stream")
			record.ErrorMsg = "client closed request"
			break loop

		case <-tick:
			emit(tr.KeepAlive(state))

		case f, ok := <-frames:
			if !ok {
				break loop
			}
			if f.err != nil {
				switch {
				case errors.Is(f.err, io.EOF):
				case errors.Is(f.err, sse.ErrLineTooLong):
					// 回答被截断，不能当作正常结束
					entry.WithField("reason", "line_too_long").Errorf("❌ Upstream stream truncated: %v", f.err)
					record.ErrorMsg = "stream truncated: " + f.err.Error()
				default:
					entry.Errorf("❌ Upstream stream read error: %v", f.err)
					record.ErrorMsg = utils.Truncate(f.err.Error(), 500)
				}
				break loop
			}
			if f.event.IsDone() {
				break loop
			}
			data := strings.TrimSpace(f.event.Data)
			if data == "" {
				continue
			}
			if ticker != nil {
				ticker.Reset(h.keepAlive)
			}

			if msg := gjson.Get(data, "error.message"); msg.Exists() {
				entry.Errorf("❌ Upstream stream error: %s", msg.String())
				record.ErrorMsg = utils.Truncate(msg.String(), 500)
				break loop
			}

			var chunk models.ChatCompletionResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				entry.WithField("warning", string(mapper.WarnUnrecognizedChunk)).
					Warnf("⚠️ Failed to parse stream chunk: %v (%s)", err, utils.Truncate(data, 200))
				h.metrics.TranslationWarning(string(mapper.WarnUnrecognizedChunk))
				continue
			}
			emit(tr.Feed(&chunk, state))
		}
	}

	if !state.Terminal {
		// 上游未正常结束，补齐事件序列 (客户端断开时尽力而为)
		entry.Warnf("⚠️ Stream ended without finish_reason, aborting (%s)", state)
		emit(tr.Abort(state))
	}

	record.StopReason = state.StopReason
	record.InputTokens = state.Usage.InputTokens
	record.OutputTokens = state.Usage.OutputTokens
	entry.Infof("✅ Stream finished: stop=%s | in=%d out=%d", state.StopReason, state.Usage.InputTokens, state.Usage.OutputTokens)
}

// HandleCountTokens 处理 POST /v1/messages/count_tokens
func (h *Handler) HandleCountTokens(c *gin.Context) {
	var req models.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &mapper.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	entry := h.logger.WithFields(logrus.Fields{"request_id": c.GetString(RequestIDKey), "model": req.Model})

	oreq, err := h.translator.WithLogger(entry).RequestToOpenAI(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.CountTokensResponse{InputTokens: h.tokens.Count(oreq)})
}

// upstreamStatus 用于指标标签，0 表示网络错误
func upstreamStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var upErr *adapter.UpstreamError
	if errors.As(err, &upErr) {
		return upErr.StatusCode
	}
	return 0
}

func approvalSummary(requestID string, req models.MessagesRequest) string {
	return fmt.Sprintf("📨 Request %s: model=%s messages=%d tools=%d stream=%t",
		requestID, req.Model, len(req.Messages), len(req.Tools), req.Stream)
}
