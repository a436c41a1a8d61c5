package mapper

import (
	"bytes"
	"encoding/json"
	"strings"

	"messages-gateway/core/utils"
	"messages-gateway/models"
)

const imagePlaceholder = "[image omitted]"

// ToolDefsToOpenAI maps Anthropic tool definitions to OpenAI function tools.
func ToolDefsToOpenAI(defs []models.ToolDef) []models.ChatTool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]models.ChatTool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, models.ChatTool{
			Type: "function",
			Function: models.ChatToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  utils.NormalizeToolSchema(d.InputSchema),
			},
		})
	}
	return tools
}

// ToolChoiceToOpenAI maps an Anthropic tool_choice. The second result is the
// OpenAI parallel_tool_calls flag, set only when parallel use is disabled.
func (t *Translator) ToolChoiceToOpenAI(choice *models.ToolChoice) (interface{}, *bool, error) {
	if choice == nil {
		return nil, nil, nil
	}

	var parallel *bool
	if choice.DisableParallelToolUse {
		off := false
		parallel = &off
	}

	switch choice.Type {
	case "auto":
		return "auto", parallel, nil
	case "any":
		return "required", parallel, nil
	case "none":
		return "none", nil, nil
	case "tool":
		if choice.Name == "" {
			return nil, nil, invalid("tool_choice.name", "required when tool_choice.type is \"tool\"")
		}
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		}, parallel, nil
	default:
		t.warn(warning(WarnDroppedContent, "unsupported tool_choice type %q omitted", choice.Type))
		return nil, nil, nil
	}
}

// ToolUseToCall serialises a tool_use block as an OpenAI tool call.
func ToolUseToCall(b models.ToolUseBlock) models.ChatToolCall {
	args := "{}"
	if trimmed := bytes.TrimSpace(b.Input); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		args = utils.CompactJSON(trimmed)
	}
	return models.ChatToolCall{
		ID:   b.ID,
		Type: "function",
		Function: models.ChatToolCallFunc{
			Name:      b.Name,
			Arguments: args,
		},
	}
}

// ToolCallToUse parses a complete OpenAI tool call into a tool_use block.
// Arguments that are not a JSON object become {} and a warning is returned.
func ToolCallToUse(call models.ChatToolCall) (models.ToolUseBlock, *TranslationWarning) {
	block := models.ToolUseBlock{
		ID:    call.ID,
		Name:  call.Function.Name,
		Input: json.RawMessage("{}"),
	}

	args := strings.TrimSpace(call.Function.Arguments)
	if args == "" {
		return block, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &obj); err != nil || obj == nil {
		w := warning(WarnToolArgumentsParse, "tool call %q (%s): arguments are not a JSON object, using {}", call.Function.Name, call.ID)
		return block, &w
	}
	block.Input = json.RawMessage(utils.CompactJSON([]byte(args)))
	return block, nil
}

const toolErrorPrefix = "Error: "

// ToolResultText renders tool_result content as the string an OpenAI tool
// message carries. Non-text blocks are replaced by a placeholder and a failed
// tool run is prefixed with toolErrorPrefix.
func (t *Translator) ToolResultText(b models.ToolResultBlock) string {
	var parts []string
	for _, c := range b.Content {
		switch v := c.(type) {
		case models.TextBlock:
			parts = append(parts, v.Text)
		case models.ImageBlock:
			t.warn(warning(WarnDroppedContent, "image inside tool_result %s replaced by placeholder", b.ToolUseID))
			parts = append(parts, imagePlaceholder)
		default:
			t.warn(warning(WarnDroppedContent, "%s block inside tool_result %s dropped", c.BlockType(), b.ToolUseID))
		}
	}
	text := strings.Join(parts, "\n\n")
	if b.IsError {
		return toolErrorPrefix + text
	}
	return text
}
