package models

import "encoding/json"

const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
)

// StreamEvent Anthropic 流式事件; EventType 同时作为 SSE 的 event 字段
type StreamEvent interface {
	EventType() string
}

// MessageStartEvent message_start
type MessageStartEvent struct {
	Message MessagesResponse
}

func (MessageStartEvent) EventType() string { return EventMessageStart }

func (e MessageStartEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string           `json:"type"`
		Message MessagesResponse `json:"message"`
	}{EventMessageStart, e.Message})
}

// ContentBlockStartEvent content_block_start
type ContentBlockStartEvent struct {
	Index        int
	ContentBlock ContentBlock
}

func (ContentBlockStartEvent) EventType() string { return EventContentBlockStart }

func (e ContentBlockStartEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string       `json:"type"`
		Index        int          `json:"index"`
		ContentBlock ContentBlock `json:"content_block"`
	}{EventContentBlockStart, e.Index, e.ContentBlock})
}

// BlockDelta content_block_delta 的增量部分
type BlockDelta interface {
	DeltaType() string
}

// TextDelta text_delta
type TextDelta struct {
	Text string
}

func (TextDelta) DeltaType() string { return "text_delta" }

func (d TextDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{d.DeltaType(), d.Text})
}

// InputJSONDelta input_json_delta
type InputJSONDelta struct {
	PartialJSON string
}

func (InputJSONDelta) DeltaType() string { return "input_json_delta" }

func (d InputJSONDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		PartialJSON string `json:"partial_json"`
	}{d.DeltaType(), d.PartialJSON})
}

// ContentBlockDeltaEvent content_block_delta
type ContentBlockDeltaEvent struct {
	Index int
	Delta BlockDelta
}

func (ContentBlockDeltaEvent) EventType() string { return EventContentBlockDelta }

func (e ContentBlockDeltaEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string     `json:"type"`
		Index int        `json:"index"`
		Delta BlockDelta `json:"delta"`
	}{EventContentBlockDelta, e.Index, e.Delta})
}

// ContentBlockStopEvent content_block_stop
type ContentBlockStopEvent struct {
	Index int
}

func (ContentBlockStopEvent) EventType() string { return EventContentBlockStop }

func (e ContentBlockStopEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
	}{EventContentBlockStop, e.Index})
}

// MessageDeltaEvent message_delta
type MessageDeltaEvent struct {
	StopReason   string
	StopSequence *string
	Usage        Usage
}

func (MessageDeltaEvent) EventType() string { return EventMessageDelta }

func (e MessageDeltaEvent) MarshalJSON() ([]byte, error) {
	type delta struct {
		StopReason   string  `json:"stop_reason"`
		StopSequence *string `json:"stop_sequence"`
	}
	return json.Marshal(struct {
		Type  string `json:"type"`
		Delta delta  `json:"delta"`
		Usage Usage  `json:"usage"`
	}{EventMessageDelta, delta{e.StopReason, e.StopSequence}, e.Usage})
}

// MessageStopEvent message_stop
type MessageStopEvent struct{}

func (MessageStopEvent) EventType() string { return EventMessageStop }

func (MessageStopEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"message_stop"}`), nil
}

// PingEvent ping
type PingEvent struct{}

func (PingEvent) EventType() string { return EventPing }

func (PingEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"ping"}`), nil
}
