package provider

// EventType discriminates canonical stream events.
type EventType int

const (
	EventTextDelta EventType = iota + 1
	EventToolCallDelta
	EventUsage
	EventFinish
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventToolCallDelta:
		return "tool_call_delta"
	case EventUsage:
		return "usage"
	case EventFinish:
		return "finish"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one normalized unit of streamed output.
// Exactly one payload field is set, matching Type.
type Event struct {
	Type         EventType
	Text         string
	ToolCall     *ToolCallDelta
	Usage        *Usage
	FinishReason FinishReason
	Err          error
}

// ToolCallDelta represents incremental tool call data in streaming.
// Index identifies the call within one response; ID and Name are repeated
// on every delta once known.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// TextDelta returns a text delta event.
func TextDelta(s string) Event {
	return Event{Type: EventTextDelta, Text: s}
}

// ToolCallDeltaEvent returns a tool call delta event.
func ToolCallDeltaEvent(d ToolCallDelta) Event {
	return Event{Type: EventToolCallDelta, ToolCall: &d}
}

// UsageEvent returns a usage event.
func UsageEvent(u Usage) Event {
	return Event{Type: EventUsage, Usage: &u}
}

// FinishEvent returns a finish reason event.
func FinishEvent(r FinishReason) Event {
	return Event{Type: EventFinish, FinishReason: r}
}

// ErrorEvent returns an error event.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Err: err}
}
