package mapper

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"messages-gateway/models"
)

// === Claude Inbound Mapper ===

// finishReasons is the fixed OpenAI finish_reason -> Anthropic stop_reason table.
var finishReasons = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"content_filter": "stop_sequence",
}

// MapFinishReason maps an OpenAI finish_reason. Unknown values map to
// end_turn and report ok=false.
func MapFinishReason(reason string) (stopReason string, ok bool) {
	if s, found := finishReasons[reason]; found {
		return s, true
	}
	return "end_turn", false
}

// RequestToOpenAI converts an incoming Anthropic Messages request into an
// OpenAI chat completions payload.
func (t *Translator) RequestToOpenAI(req models.MessagesRequest) (models.ChatCompletionRequest, error) {
	if strings.TrimSpace(req.Model) == "" {
		return models.ChatCompletionRequest{}, invalid("model", "must not be empty")
	}
	if len(req.Messages) == 0 {
		return models.ChatCompletionRequest{}, invalid("messages", "must not be empty")
	}

	out := models.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Tools:       ToolDefsToOpenAI(req.Tools),
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	choice, parallel, err := t.ToolChoiceToOpenAI(req.ToolChoice)
	if err != nil {
		return models.ChatCompletionRequest{}, err
	}
	out.ToolChoice = choice
	out.ParallelToolCalls = parallel

	// 1. System Prompt
	if len(req.System) > 0 {
		out.Messages = append(out.Messages, models.ChatMessage{
			Role:    "system",
			Content: t.joinText(req.System, "system"),
		})
	}

	// 2. Messages
	for i, msg := range req.Messages {
		switch msg.Role {
		case "user":
			out.Messages = append(out.Messages, t.userMessages(msg.Content)...)
		case "assistant":
			out.Messages = append(out.Messages, t.assistantMessage(msg.Content))
		default:
			return models.ChatCompletionRequest{}, invalid(fmt.Sprintf("messages[%d].role", i), "must be \"user\" or \"assistant\", got %q", msg.Role)
		}
	}

	return out, nil
}

// joinText concatenates the text blocks of content; anything else is dropped.
func (t *Translator) joinText(content models.Blocks, where string) string {
	var texts []string
	for _, b := range content {
		if tb, ok := b.(models.TextBlock); ok {
			texts = append(texts, tb.Text)
			continue
		}
		t.warn(warning(WarnDroppedContent, "%s block in %s dropped", b.BlockType(), where))
	}
	return strings.Join(texts, "\n\n")
}

// userMessages emits one tool message per tool_result (in block order), then
// the remaining text and images as a single user message.
func (t *Translator) userMessages(content models.Blocks) []models.ChatMessage {
	var (
		msgs     []models.ChatMessage
		texts    []string
		parts    []models.ContentPart
		hasImage bool
	)

	for _, b := range content {
		switch v := b.(type) {
		case models.ToolResultBlock:
			msgs = append(msgs, models.ChatMessage{
				Role:       "tool",
				ToolCallID: v.ToolUseID,
				Content:    t.ToolResultText(v),
			})
		case models.TextBlock:
			texts = append(texts, v.Text)
			parts = append(parts, models.ContentPart{Type: "text", Text: v.Text})
		case models.ImageBlock:
			hasImage = true
			parts = append(parts, models.ContentPart{
				Type:     "image_url",
				ImageURL: &models.ImageURL{URL: imageURL(v.Source)},
			})
		default:
			t.warn(warning(WarnDroppedContent, "%s block in user message dropped", b.BlockType()))
		}
	}

	switch {
	case hasImage:
		msgs = append(msgs, models.ChatMessage{Role: "user", Content: parts})
	case len(texts) > 0:
		msgs = append(msgs, models.ChatMessage{Role: "user", Content: strings.Join(texts, "\n\n")})
	}
	return msgs
}

func imageURL(src models.ImageSource) string {
	if src.Type == "url" {
		return src.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
}

// assistantMessage folds tool_use blocks into tool_calls; sibling text becomes
// content, which is null when there is none.
func (t *Translator) assistantMessage(content models.Blocks) models.ChatMessage {
	msg := models.ChatMessage{Role: "assistant"}
	var texts []string

	for _, b := range content {
		switch v := b.(type) {
		case models.TextBlock:
			texts = append(texts, v.Text)
		case models.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, ToolUseToCall(v))
		default:
			t.warn(warning(WarnDroppedContent, "%s block in assistant message dropped", b.BlockType()))
		}
	}

	if len(texts) > 0 {
		msg.Content = strings.Join(texts, "\n\n")
	}
	return msg
}

// ResponseToAnthropic converts a complete OpenAI response. Only the first
// choice is used.
func (t *Translator) ResponseToAnthropic(resp models.ChatCompletionResponse) models.MessagesResponse {
	out := models.MessagesResponse{
		ID:      resp.ID,
		Type:    "message",
		Role:    "assistant",
		Model:   resp.Model,
		Content: make([]models.ContentBlock, 0),
	}
	if out.ID == "" {
		out.ID = NewMessageID()
	}

	if resp.Usage != nil {
		out.Usage.InputTokens = resp.Usage.PromptTokens
		out.Usage.OutputTokens = resp.Usage.CompletionTokens
	}

	if len(resp.Choices) == 0 {
		t.warn(warning(WarnUnrecognizedChunk, "response %s has no choices", out.ID))
		out.StopReason = strPtr("end_turn")
		return out
	}

	choice := resp.Choices[0]
	out.StopReason = strPtr(t.stopReason(choice.FinishReason))

	if text := choice.Message.StringContent(); text != "" {
		out.Content = append(out.Content, models.TextBlock{Text: text})
	}

	for _, tc := range choice.Message.ToolCalls {
		block, w := ToolCallToUse(tc)
		if w != nil {
			t.warn(*w)
		}
		if block.ID == "" {
			block.ID = NewToolUseID()
		}
		out.Content = append(out.Content, block)
	}

	return out
}

func (t *Translator) stopReason(finish string) string {
	s, ok := MapFinishReason(finish)
	if !ok {
		t.warn(warning(WarnUnknownFinishReason, "finish_reason %q mapped to end_turn", finish))
	}
	return s
}

// NewMessageID generates an Anthropic-style message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewToolUseID generates an Anthropic-style tool_use id.
func NewToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func strPtr(s string) *string { return &s }
