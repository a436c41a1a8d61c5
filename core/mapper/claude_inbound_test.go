package mapper

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messages-gateway/models"
)

func newTestTranslator() (*Translator, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewTranslator(logger), hook
}

func decodeRequest(t *testing.T, body string) models.MessagesRequest {
	t.Helper()
	var req models.MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestRequestToOpenAI_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty model", `{"model":"","messages":[{"role":"user","content":"hi"}]}`, "model"},
		{"missing messages", `{"model":"gpt-4o"}`, "messages"},
		{"empty messages", `{"model":"gpt-4o","messages":[]}`, "messages"},
		{"bad role", `{"model":"gpt-4o","messages":[{"role":"system","content":"hi"}]}`, "messages[0].role"},
		{"tool choice without name", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"tool_choice":{"type":"tool"}}`, "tool_choice.name"},
	}

	tr, _ := newTestTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.RequestToOpenAI(decodeRequest(t, tt.body))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRequestToOpenAI_SimpleText(t *testing.T) {
	tr, hook := newTestTranslator()
	req := decodeRequest(t, `{
		"model": "gpt-4o",
		"max_tokens": 256,
		"stream": true,
		"temperature": 0.2,
		"stop_sequences": ["END"],
		"metadata": {"user_id": "u-1"},
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", out.Model)
	assert.True(t, out.Stream)
	require.NotNil(t, out.MaxTokens)
	assert.Equal(t, 256, *out.MaxTokens)
	require.NotNil(t, out.Temperature)
	assert.Equal(t, 0.2, *out.Temperature)
	assert.Equal(t, []string{"END"}, out.Stop)
	assert.Equal(t, "u-1", out.User)
	assert.Equal(t, []models.ChatMessage{{Role: "user", Content: "hi"}}, out.Messages)
	assert.Empty(t, hook.AllEntries())
}

func TestRequestToOpenAI_System(t *testing.T) {
	tests := []struct {
		name     string
		system   string
		expected string
	}{
		{"string", `"be brief"`, "be brief"},
		{"blocks", `[{"type":"text","text":"one"},{"type":"text","text":"two"}]`, "one\n\ntwo"},
	}

	tr, _ := newTestTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, `{"model":"m","system":`+tt.system+`,"messages":[{"role":"user","content":"hi"}]}`)
			out, err := tr.RequestToOpenAI(req)
			require.NoError(t, err)
			require.Len(t, out.Messages, 2)
			assert.Equal(t, models.ChatMessage{Role: "system", Content: tt.expected}, out.Messages[0])
		})
	}
}

func TestRequestToOpenAI_ToolRoundTrip(t *testing.T) {
	tr, _ := newTestTranslator()
	req := decodeRequest(t, `{
		"model": "gpt-4o",
		"tools": [{"name": "get_weather", "description": "Weather", "input_schema": {"type": "object", "properties": {"city": {"type": "string"}}}}],
		"tool_choice": {"type": "tool", "name": "get_weather"},
		"messages": [
			{"role": "user", "content": "weather in Paris?"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Paris"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": [{"type": "text", "text": "18C"}]},
				{"type": "text", "text": "thanks"}
			]},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_2", "name": "get_weather", "input": {"city": "Rome"}}
			]}
		]
	}`)

	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "function", out.Tools[0].Type)
	assert.Equal(t, "get_weather", out.Tools[0].Function.Name)
	assert.Equal(t, "Weather", out.Tools[0].Function.Description)
	assert.Equal(t, "object", out.Tools[0].Function.Parameters["type"])
	assert.Equal(t, map[string]interface{}{
		"type":     "function",
		"function": map[string]string{"name": "get_weather"},
	}, out.ToolChoice)

	require.Len(t, out.Messages, 5)

	assert.Equal(t, "user", out.Messages[0].Role)

	assistant := out.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "Let me check.", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "toolu_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "function", assistant.ToolCalls[0].Type)
	assert.JSONEq(t, `{"city":"Paris"}`, assistant.ToolCalls[0].Function.Arguments)

	assert.Equal(t, models.ChatMessage{Role: "tool", ToolCallID: "toolu_1", Content: "18C"}, out.Messages[2])
	assert.Equal(t, models.ChatMessage{Role: "user", Content: "thanks"}, out.Messages[3])

	toolOnly := out.Messages[4]
	assert.Nil(t, toolOnly.Content)
	require.Len(t, toolOnly.ToolCalls, 1)
	assert.Equal(t, "toolu_2", toolOnly.ToolCalls[0].ID)

	// content 为空时必须序列化为 null
	raw, err := json.Marshal(toolOnly)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":null`)
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name  string
		block models.ToolResultBlock
		want  string
	}{
		{
			name:  "success",
			block: models.ToolResultBlock{ToolUseID: "toolu_1", Content: models.Blocks{models.TextBlock{Text: "18C"}}},
			want:  "18C",
		},
		{
			name: "failed run is marked",
			block: models.ToolResultBlock{ToolUseID: "toolu_1", IsError: true,
				Content: models.Blocks{models.TextBlock{Text: "city not found"}}},
			want: "Error: city not found",
		},
		{
			name:  "failed run without content",
			block: models.ToolResultBlock{ToolUseID: "toolu_1", IsError: true},
			want:  "Error: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTranslator()
			assert.Equal(t, tt.want, tr.ToolResultText(tt.block))
		})
	}

	tr, _ := newTestTranslator()
	req := decodeRequest(t, `{"model":"gpt-4o","messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"lookup","input":{}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","is_error":true,"content":[{"type":"text","text":"timeout"}]}]}
	]}`)
	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, models.ChatMessage{Role: "tool", ToolCallID: "toolu_1", Content: "Error: timeout"}, out.Messages[1])
}

func TestRequestToOpenAI_ToolChoice(t *testing.T) {
	tests := []struct {
		name     string
		choice   string
		expected interface{}
		parallel *bool
	}{
		{"auto string", `"auto"`, "auto", nil},
		{"auto object", `{"type":"auto"}`, "auto", nil},
		{"any", `{"type":"any"}`, "required", nil},
		{"none", `{"type":"none"}`, "none", nil},
		{"disable parallel", `{"type":"auto","disable_parallel_tool_use":true}`, "auto", boolPtr(false)},
	}

	tr, _ := newTestTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := decodeRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],"tool_choice":`+tt.choice+`}`)
			out, err := tr.RequestToOpenAI(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.ToolChoice)
			assert.Equal(t, tt.parallel, out.ParallelToolCalls)
		})
	}
}

func TestRequestToOpenAI_UnknownToolChoiceWarns(t *testing.T) {
	tr, hook := newTestTranslator()
	req := decodeRequest(t, `{"model":"m","messages":[{"role":"user","content":"hi"}],"tool_choice":{"type":"sometimes"}}`)
	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)
	assert.Nil(t, out.ToolChoice)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, string(WarnDroppedContent), hook.LastEntry().Data["warning"])
}

func TestRequestToOpenAI_Images(t *testing.T) {
	tr, _ := newTestTranslator()
	req := decodeRequest(t, `{"model":"m","messages":[{"role":"user","content":[
		{"type":"text","text":"what is this?"},
		{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}
	]}]}`)

	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, []models.ContentPart{
		{Type: "text", Text: "what is this?"},
		{Type: "image_url", ImageURL: &models.ImageURL{URL: "data:image/png;base64,AAAA"}},
	}, out.Messages[0].Content)
}

func TestRequestToOpenAI_DropsUnknownBlocks(t *testing.T) {
	tr, hook := newTestTranslator()
	req := decodeRequest(t, `{"model":"m","messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"hello"}]}
	]}`)

	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "hello", out.Messages[1].Content)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

// 结构性质: 纯文本消息数量与顺序保持不变, 工具名称保持不变
func TestRequestToOpenAI_PreservesOrderAndToolNames(t *testing.T) {
	tr, _ := newTestTranslator()
	req := models.MessagesRequest{
		Model: "m",
		Tools: []models.ToolDef{{Name: "a"}, {Name: "b"}, {Name: "c"}},
	}
	roles := []string{"user", "assistant", "user", "assistant", "user"}
	for i, r := range roles {
		req.Messages = append(req.Messages, models.Message{
			Role:    r,
			Content: models.Blocks{models.TextBlock{Text: string(rune('A' + i))}},
		})
	}

	out, err := tr.RequestToOpenAI(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, len(roles))
	for i, m := range out.Messages {
		assert.Equal(t, roles[i], m.Role)
		assert.Equal(t, string(rune('A'+i)), m.Content)
	}
	var names []string
	for _, tool := range out.Tools {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestResponseToAnthropic_FinishReasons(t *testing.T) {
	tests := []struct {
		finish   string
		expected string
		warns    bool
	}{
		{"stop", "end_turn", false},
		{"length", "max_tokens", false},
		{"tool_calls", "tool_use", false},
		{"content_filter", "stop_sequence", false},
		{"function_call", "end_turn", true},
		{"", "end_turn", true},
	}

	for _, tt := range tests {
		t.Run(tt.finish, func(t *testing.T) {
			tr, hook := newTestTranslator()
			resp := models.ChatCompletionResponse{
				ID:      "chatcmpl-1",
				Choices: []models.ChatCompletionChoice{{Message: models.ChatMessage{Content: "ok"}, FinishReason: tt.finish}},
			}
			out := tr.ResponseToAnthropic(resp)
			require.NotNil(t, out.StopReason)
			assert.Equal(t, tt.expected, *out.StopReason)
			if tt.warns {
				require.Len(t, hook.AllEntries(), 1)
				assert.Equal(t, string(WarnUnknownFinishReason), hook.LastEntry().Data["warning"])
			} else {
				assert.Empty(t, hook.AllEntries())
			}
		})
	}
}

func TestResponseToAnthropic_Content(t *testing.T) {
	tr, hook := newTestTranslator()
	var resp models.ChatCompletionResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "chatcmpl-9",
		"model": "gpt-4o",
		"choices": [
			{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant",
				"content": "calling tools",
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{\"a\": 1}"}},
					{"id": "call_2", "type": "function", "function": {"name": "g", "arguments": "{broken"}}
				]
			}},
			{"index": 1, "finish_reason": "stop", "message": {"role": "assistant", "content": "ignored"}}
		],
		"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
	}`), &resp))

	out := tr.ResponseToAnthropic(resp)

	assert.Equal(t, "chatcmpl-9", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	assert.Equal(t, "gpt-4o", out.Model)
	assert.Equal(t, "tool_use", *out.StopReason)
	assert.Equal(t, models.Usage{InputTokens: 11, OutputTokens: 7}, out.Usage)

	require.Len(t, out.Content, 3)
	assert.Equal(t, models.TextBlock{Text: "calling tools"}, out.Content[0])
	assert.Equal(t, models.ToolUseBlock{ID: "call_1", Name: "f", Input: json.RawMessage(`{"a":1}`)}, out.Content[1])
	assert.Equal(t, models.ToolUseBlock{ID: "call_2", Name: "g", Input: json.RawMessage(`{}`)}, out.Content[2])

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, string(WarnToolArgumentsParse), hook.LastEntry().Data["warning"])

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "chatcmpl-9", "type": "message", "role": "assistant", "model": "gpt-4o",
		"content": [
			{"type": "text", "text": "calling tools"},
			{"type": "tool_use", "id": "call_1", "name": "f", "input": {"a": 1}},
			{"type": "tool_use", "id": "call_2", "name": "g", "input": {}}
		],
		"stop_reason": "tool_use", "stop_sequence": null,
		"usage": {"input_tokens": 11, "output_tokens": 7}
	}`, string(raw))
}

func TestResponseToAnthropic_EmptyChoices(t *testing.T) {
	tr, hook := newTestTranslator()
	out := tr.ResponseToAnthropic(models.ChatCompletionResponse{})

	assert.NotEmpty(t, out.ID)
	assert.NotNil(t, out.Content)
	assert.Empty(t, out.Content)
	assert.Equal(t, "end_turn", *out.StopReason)
	assert.Len(t, hook.AllEntries(), 1)
}

func boolPtr(b bool) *bool { return &b }
