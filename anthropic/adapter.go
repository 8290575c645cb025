// Package anthropic implements the Anthropic Messages protocol family.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/i2y/llmgateway/provider"
)

const (
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Adapter implements provider.Adapter for the Messages API.
type Adapter struct{}

// New creates a Messages API adapter.
func New() *Adapter {
	return &Adapter{}
}

// Build implements provider.RequestBuilder.
func (a *Adapter) Build(cfg *provider.Config, m provider.ResolvedModel, req *provider.Request) (*provider.WireRequest, error) {
	if err := provider.ValidateRequest(req); err != nil {
		return nil, err
	}

	body, err := provider.EncodeBody(a.buildRequest(m.Model, req), nil, cfg.Body, req.Options)
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindValidation, Provider: cfg.ID, Cause: err}
	}

	headers := map[string]string{"anthropic-version": apiVersion}
	return provider.NewWireRequest(cfg, cfg.Endpoint(m.Variant)+messagesPath, body, headers), nil
}

// buildRequest converts a provider.Request to an Anthropic API request.
func (a *Adapter) buildRequest(model string, req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:         model,
		Messages:      make([]any, 0, len(req.Messages)),
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		Stream:        true,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		// System messages are lifted out of the conversation.
		if msg.Role == provider.RoleSystem {
			system = append(system, msg.Text())
			continue
		}

		apiMsg := message{Role: convertRole(msg.Role)}

		// Handle tool results
		if msg.Role == provider.RoleTool {
			apiMsg.Role = "user"
			apiMsg.Content = []contentPart{{
				Type:      "tool_result",
				ToolUseID: msg.ToolID,
				Content:   msg.Text(),
			}}
			apiReq.Messages = append(apiReq.Messages, withOptions(apiMsg, msg.Options))
			continue
		}

		apiMsg.Content = append(apiMsg.Content, convertParts(msg)...)

		// Tool uses follow the text of an assistant turn.
		for _, tc := range msg.ToolCalls {
			var input any = map[string]any{}
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = tc.Arguments
				}
			}
			apiMsg.Content = append(apiMsg.Content, contentPart{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: input,
			})
		}

		if len(apiMsg.Content) > 0 {
			apiReq.Messages = append(apiReq.Messages, withOptions(apiMsg, msg.Options))
		}
	}
	apiReq.System = strings.Join(system, "\n\n")

	// Handle tools
	for _, tool := range req.Tools {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return apiReq
}

func convertParts(msg provider.Message) []contentPart {
	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil
		}
		return []contentPart{{Type: "text", Text: msg.Content}}
	}

	parts := make([]contentPart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case provider.PartText:
			parts = append(parts, contentPart{Type: "text", Text: p.Text})
		case provider.PartImage:
			src := &imageSource{Type: "base64", MediaType: p.MediaType, Data: p.Data}
			if p.ImageURL != "" {
				src = &imageSource{Type: "url", URL: p.ImageURL}
			}
			parts = append(parts, contentPart{Type: "image", Source: src})
		}
	}
	return parts
}

// withOptions merges message-level passthrough options, such as
// cache_control, into the encoded message.
func withOptions(msg message, opts map[string]any) any {
	if len(opts) == 0 {
		return msg
	}
	raw, err := provider.EncodeBody(msg, nil, opts)
	if err != nil {
		return msg
	}
	return json.RawMessage(raw)
}

func convertRole(role provider.Role) string {
	switch role {
	case provider.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

func convertStopReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	case "refusal":
		return provider.FinishReasonFiltered
	default:
		return provider.FinishReasonStop
	}
}

// Parse implements provider.StreamParser.
func (a *Adapter) Parse(frame provider.Frame, state *provider.StreamState) error {
	var event streamEvent
	ok, err := state.Decode(frame.Data, &event)
	if err != nil || !ok {
		return err
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			state.Usage.PromptTokens = event.Message.Usage.InputTokens
			state.Usage.CachedTokens = event.Message.Usage.CacheReadInputTokens
		}

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			call := state.ToolCall(event.Index)
			call.ID = event.ContentBlock.ID
			call.Name = event.ContentBlock.Name
			state.Emit(provider.ToolCallDeltaEvent(provider.ToolCallDelta{
				Index: event.Index,
				ID:    call.ID,
				Name:  call.Name,
			}))
		}

	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				state.Emit(provider.TextDelta(event.Delta.Text))
			}
		case "input_json_delta":
			call := state.ToolCall(event.Index)
			call.Arguments += event.Delta.PartialJSON
			state.Emit(provider.ToolCallDeltaEvent(provider.ToolCallDelta{
				Index:          event.Index,
				ID:             call.ID,
				Name:           call.Name,
				ArgumentsDelta: event.Delta.PartialJSON,
			}))
		}

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			state.Emit(provider.FinishEvent(convertStopReason(event.Delta.StopReason)))
		}
		if event.Usage != nil {
			state.Usage.CompletionTokens = event.Usage.OutputTokens
			state.Usage.TotalTokens = state.Usage.PromptTokens + event.Usage.OutputTokens
			state.Emit(provider.UsageEvent(state.Usage))
		}

	case "message_stop":
		state.Terminate()

	case "error":
		if event.Error != nil {
			state.Emit(provider.ErrorEvent(convertError(event.Error)))
		}
	}

	return nil
}

func convertError(e *apiError) error {
	kind := provider.KindProtocol
	switch e.Type {
	case "authentication_error", "permission_error":
		kind = provider.KindAuthExpired
	case "overloaded_error", "api_error", "rate_limit_error":
		kind = provider.KindNetwork
	}
	return &provider.Error{Kind: kind, Message: e.Message}
}
