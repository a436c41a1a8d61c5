package mapper

import "fmt"

// ValidationError reports an inbound request the gateway cannot translate.
// It is surfaced to the client as a 400 before any backend call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// WarningKind classifies a TranslationWarning.
type WarningKind string

const (
	WarnUnknownFinishReason WarningKind = "unknown_finish_reason"
	WarnToolArgumentsParse  WarningKind = "tool_arguments_parse"
	WarnToolCallOutOfOrder  WarningKind = "tool_call_out_of_order"
	WarnUnrecognizedChunk   WarningKind = "unrecognized_chunk"
	WarnFeedAfterTerminal   WarningKind = "feed_after_terminal"
	WarnDroppedContent      WarningKind = "dropped_content"
	WarnRecoveredPanic      WarningKind = "recovered_panic"
)

// TranslationWarning is a non-fatal translation problem. Translation always
// continues with a documented default after one is reported.
type TranslationWarning struct {
	Kind   WarningKind
	Detail string
}

func (w TranslationWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Detail)
}

func warning(kind WarningKind, format string, args ...any) TranslationWarning {
	return TranslationWarning{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
