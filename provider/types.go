package provider

import "encoding/json"

// Request represents a provider-agnostic completion request.
// A Request is treated as immutable for the duration of one attempt.
type Request struct {
	// Model is "model@provider", a bare model key, or empty to let the
	// gateway pick one for Feature.
	Model         string
	Feature       string
	Messages      []Message
	Tools         []ToolDef
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	TopK          *int
	StopSequences []string

	// Options are free-form provider fields merged into the wire body last.
	Options map[string]any

	// ID identifies the logical request in logs and telemetry.
	ID    string
	Trace *TraceContext
}

// TraceContext links a request to an existing trace.
type TraceContext struct {
	TraceID      string
	ParentSpanID string
}

// Message represents a single message in the conversation.
type Message struct {
	Role      Role
	Content   string
	Parts     []Part // Structured content; takes precedence over Content when set
	ToolCalls []ToolCall
	ToolID    string // When Role == RoleTool

	// Options are passed through to providers that understand them.
	Options map[string]any
}

// Text returns the textual content of the message, joining text parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Role represents the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a structured content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one element of structured message content.
type Part struct {
	Type      PartType
	Text      string
	ImageURL  string
	MediaType string
	Data      string // base64 image data
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON string
}

// ToolDef defines a tool the model can use.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonLength    FinishReason = "length"
	FinishReasonFiltered  FinishReason = "content_filter"
)

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CachedTokens     int
}

// ResolvedModel is a concrete (provider, provider-side model) pair.
type ResolvedModel struct {
	ProviderID string
	Model      string
	Variant    string // Optional base URL variant (region, plan)
}

func (m ResolvedModel) String() string {
	return m.Model + "@" + m.ProviderID
}
