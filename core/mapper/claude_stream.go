package mapper

import (
	"encoding/json"
	"fmt"

	"messages-gateway/models"
)

// BlockKind is the kind of the content block currently open in a stream.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// OpenBlock identifies the single content block open at a time.
type OpenBlock struct {
	Index int
	Kind  BlockKind
}

// ToolCallBuffer tracks one upstream tool call. Arguments is only appended to.
type ToolCallBuffer struct {
	AnthropicIndex int
	ID             string
	Name           string
	Arguments      string
}

// StreamState is the per-stream state of the chunk -> event state machine.
// One instance per client request, never shared between streams. The zero
// value is ready to use.
type StreamState struct {
	MessageStartSent bool
	NextBlockIndex   int
	Open             *OpenBlock
	// ToolCalls is keyed by the upstream tool-call index; entries are never removed.
	ToolCalls map[int]*ToolCallBuffer
	Terminal  bool

	// StopReason and Usage record what was emitted in message_delta.
	StopReason string
	Usage      models.Usage
}

// NewStreamState returns the state for a freshly opened stream.
func NewStreamState() *StreamState {
	return &StreamState{ToolCalls: make(map[int]*ToolCallBuffer)}
}

// Feed translates one upstream chunk into zero or more Anthropic events,
// mutating state in place. It never panics; malformed input degrades to a
// warning and a partial event list.
func (t *Translator) Feed(chunk *models.ChatCompletionResponse, state *StreamState) (events []models.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.warn(warning(WarnRecoveredPanic, "stream chunk dropped: %v", r))
		}
	}()

	if state.Terminal {
		t.warn(warning(WarnFeedAfterTerminal, "chunk received after message_stop ignored"))
		return nil
	}
	if chunk == nil {
		t.warn(warning(WarnUnrecognizedChunk, "nil chunk"))
		return nil
	}
	if state.ToolCalls == nil {
		state.ToolCalls = make(map[int]*ToolCallBuffer)
	}

	if !state.MessageStartSent {
		events = append(events, t.messageStart(chunk.ID, chunk.Model, state))
	}

	if len(chunk.Choices) == 0 {
		return append(events, models.PingEvent{})
	}

	choice := chunk.Choices[0]
	delta := choice.Delta
	handled := false

	if text := delta.StringContent(); text != "" {
		handled = true
		if state.Open == nil || state.Open.Kind != BlockText {
			events = closeOpen(events, state)
			events = append(events, openBlock(state, BlockText, models.TextBlock{}))
		}
		events = append(events, models.ContentBlockDeltaEvent{
			Index: state.Open.Index,
			Delta: models.TextDelta{Text: text},
		})
	}

	for pos, tc := range delta.ToolCalls {
		handled = true
		t.toolCallDelta(&events, state, pos, tc)
	}

	if choice.FinishReason != "" {
		handled = true
		events = closeOpen(events, state)

		usage := models.Usage{}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		events = append(events, t.finish(state, t.stopReason(choice.FinishReason), usage)...)
	}

	if !handled {
		events = append(events, models.PingEvent{})
	}
	return events
}

// toolCallDelta handles one tool_calls entry of a delta, appending to *events
// as each event is produced.
func (t *Translator) toolCallDelta(events *[]models.StreamEvent, state *StreamState, pos int, tc models.ChatToolCall) {
	upstream := pos
	if tc.Index != nil {
		upstream = *tc.Index
	}

	buf, seen := state.ToolCalls[upstream]
	if !seen {
		if tc.ID == "" && tc.Function.Name == "" {
			t.warn(warning(WarnToolCallOutOfOrder, "arguments for unknown tool call index %d dropped", upstream))
			return
		}
		id := tc.ID
		if id == "" {
			id = NewToolUseID()
		}
		if tc.Function.Name == "" {
			t.warn(warning(WarnUnrecognizedChunk, "tool call %s opened without a name", id))
		}

		*events = closeOpen(*events, state)
		buf = &ToolCallBuffer{AnthropicIndex: state.NextBlockIndex, ID: id, Name: tc.Function.Name}
		state.ToolCalls[upstream] = buf
		*events = append(*events, openBlock(state, BlockToolUse, models.ToolUseBlock{
			ID:    id,
			Name:  tc.Function.Name,
			Input: json.RawMessage("{}"),
		}))
	}

	fragment := tc.Function.Arguments
	if fragment == "" {
		return
	}
	if state.Open == nil || state.Open.Kind != BlockToolUse || state.Open.Index != buf.AnthropicIndex {
		t.warn(warning(WarnToolCallOutOfOrder, "arguments for closed tool call %s (index %d) dropped", buf.ID, upstream))
		return
	}

	buf.Arguments += fragment
	*events = append(*events, models.ContentBlockDeltaEvent{
		Index: buf.AnthropicIndex,
		Delta: models.InputJSONDelta{PartialJSON: fragment},
	})
}

// Abort terminates a stream that ended without a finish_reason (client
// disconnect or backend failure) so the client still sees a well-formed
// sequence. It does nothing on a terminal state.
func (t *Translator) Abort(state *StreamState) []models.StreamEvent {
	if state.Terminal {
		return nil
	}
	var events []models.StreamEvent
	if !state.MessageStartSent {
		events = append(events, t.messageStart("", "", state))
	}
	events = closeOpen(events, state)
	return append(events, t.finish(state, "end_turn", models.Usage{})...)
}

// KeepAlive returns a ping for an idle stream, preceded by message_start
// when nothing was sent yet.
func (t *Translator) KeepAlive(state *StreamState) []models.StreamEvent {
	if state.Terminal {
		return nil
	}
	var events []models.StreamEvent
	if !state.MessageStartSent {
		events = append(events, t.messageStart("", "", state))
	}
	return append(events, models.PingEvent{})
}

func (t *Translator) messageStart(id, model string, state *StreamState) models.StreamEvent {
	if id == "" {
		id = NewMessageID()
	}
	state.MessageStartSent = true
	return models.MessageStartEvent{Message: models.MessagesResponse{
		ID:      id,
		Type:    "message",
		Role:    "assistant",
		Model:   model,
		Content: make([]models.ContentBlock, 0),
		Usage:   models.Usage{},
	}}
}

func (t *Translator) finish(state *StreamState, stopReason string, usage models.Usage) []models.StreamEvent {
	state.Terminal = true
	state.StopReason = stopReason
	state.Usage = usage
	return []models.StreamEvent{
		models.MessageDeltaEvent{StopReason: stopReason, Usage: usage},
		models.MessageStopEvent{},
	}
}

func openBlock(state *StreamState, kind BlockKind, block models.ContentBlock) models.StreamEvent {
	idx := state.NextBlockIndex
	state.NextBlockIndex++
	state.Open = &OpenBlock{Index: idx, Kind: kind}
	return models.ContentBlockStartEvent{Index: idx, ContentBlock: block}
}

func closeOpen(events []models.StreamEvent, state *StreamState) []models.StreamEvent {
	if state.Open == nil {
		return events
	}
	events = append(events, models.ContentBlockStopEvent{Index: state.Open.Index})
	state.Open = nil
	return events
}

// String is used in debug logs.
func (s *StreamState) String() string {
	open := "none"
	if s.Open != nil {
		open = fmt.Sprintf("%d/%s", s.Open.Index, s.Open.Kind)
	}
	return fmt.Sprintf("started=%t next=%d open=%s tools=%d terminal=%t",
		s.MessageStartSent, s.NextBlockIndex, open, len(s.ToolCalls), s.Terminal)
}
