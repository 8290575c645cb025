// Package openai implements the Chat Completions protocol family, shared by
// OpenAI and the many providers that clone its wire format.
package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/i2y/llmgateway/provider"
)

const chatCompletionsPath = "/chat/completions"

// Policy captures the differences between Chat Completions dialects.
// Policies are fixed per family; they are not runtime toggles.
type Policy struct {
	Family provider.Family

	// Strip lists top-level body fields the upstream rejects. They are
	// removed after provider options are merged, so callers cannot
	// reintroduce them.
	Strip []string

	// Headers are injected into every request of the family.
	Headers map[string]string

	// IncludeUsage requests a trailing usage chunk via stream_options.
	IncludeUsage bool

	// MaxCompletionTokens sends max_tokens as max_completion_tokens.
	MaxCompletionTokens bool
}

var (
	// PolicyOpenAI is the official API: no top_k, usage via stream_options.
	PolicyOpenAI = Policy{
		Family:              provider.FamilyOpenAI,
		Strip:               []string{"top_k"},
		IncludeUsage:        true,
		MaxCompletionTokens: true,
	}

	// PolicyCompatible keeps every sampling knob; clones differ too much to
	// assume stream_options support.
	PolicyCompatible = Policy{
		Family: provider.FamilyOpenAICompatible,
	}

	// PolicyGeminiOpenAI is Google's compatibility endpoint, which rejects top_k.
	PolicyGeminiOpenAI = Policy{
		Family:       provider.FamilyGeminiOpenAI,
		Strip:        []string{"top_k"},
		IncludeUsage: true,
	}
)

// Adapter implements provider.Adapter for one Chat Completions dialect.
type Adapter struct {
	policy Policy
}

// New creates an adapter for the given policy.
func New(policy Policy) *Adapter {
	return &Adapter{policy: policy}
}

// Build implements provider.RequestBuilder.
func (a *Adapter) Build(cfg *provider.Config, m provider.ResolvedModel, req *provider.Request) (*provider.WireRequest, error) {
	if err := provider.ValidateRequest(req); err != nil {
		return nil, err
	}

	apiReq, err := a.buildRequest(m.Model, req)
	if err != nil {
		return nil, err
	}

	body, err := provider.EncodeBody(apiReq, a.policy.Strip, cfg.Body, req.Options)
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindValidation, Provider: cfg.ID, Cause: err}
	}

	url := cfg.Endpoint(m.Variant) + chatCompletionsPath
	return provider.NewWireRequest(cfg, url, body, a.policy.Headers), nil
}

// buildRequest converts a provider.Request to an OpenAI API request.
func (a *Adapter) buildRequest(model string, req *provider.Request) (*chatCompletionRequest, error) {
	apiReq := &chatCompletionRequest{
		Model:       model,
		Messages:    make([]any, 0, len(req.Messages)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Stop:        req.StopSequences,
		Stream:      true,
	}
	if a.policy.MaxCompletionTokens {
		apiReq.MaxCompletionTokens = req.MaxTokens
	} else {
		apiReq.MaxTokens = req.MaxTokens
	}
	if a.policy.IncludeUsage {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	for _, msg := range req.Messages {
		apiMsg := message{
			Role:    string(msg.Role),
			Content: convertContent(msg),
		}

		// Handle tool call ID for tool results
		if msg.ToolID != "" {
			apiMsg.ToolCallID = msg.ToolID
		}

		// Handle tool calls in assistant messages
		if len(msg.ToolCalls) > 0 {
			apiMsg.ToolCalls = make([]toolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				apiMsg.ToolCalls[i] = toolCall{
					ID:   tc.ID,
					Type: "function",
					Function: functionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}

		if len(msg.Options) == 0 {
			apiReq.Messages = append(apiReq.Messages, apiMsg)
			continue
		}
		raw, err := provider.EncodeBody(apiMsg, nil, msg.Options)
		if err != nil {
			return nil, provider.Errorf(provider.KindValidation, "encoding message options: %v", err)
		}
		apiReq.Messages = append(apiReq.Messages, json.RawMessage(raw))
	}

	// Handle tools
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return apiReq, nil
}

// convertContent returns a plain string for text-only messages and a part
// list when images are attached.
func convertContent(msg provider.Message) any {
	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil
		}
		return msg.Content
	}

	parts := make([]contentPart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case provider.PartText:
			parts = append(parts, contentPart{Type: "text", Text: p.Text})
		case provider.PartImage:
			url := p.ImageURL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data)
			}
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
		}
	}
	return parts
}

// Parse implements provider.StreamParser.
func (a *Adapter) Parse(frame provider.Frame, state *provider.StreamState) error {
	data := bytes.TrimSpace(frame.Data)
	if string(data) == "[DONE]" {
		state.Terminate()
		return nil
	}

	var chunk streamChunk
	ok, err := state.Decode(data, &chunk)
	if err != nil || !ok {
		return err
	}

	if chunk.Error != nil {
		state.Emit(provider.ErrorEvent(convertError(chunk.Error)))
		return nil
	}

	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			state.Emit(provider.TextDelta(delta.Content))
		}

		// Tool call deltas carry id and name once, arguments in pieces.
		for _, tc := range delta.ToolCalls {
			call := state.ToolCall(tc.Index)
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
			state.Emit(provider.ToolCallDeltaEvent(provider.ToolCallDelta{
				Index:          tc.Index,
				ID:             call.ID,
				Name:           call.Name,
				ArgumentsDelta: tc.Function.Arguments,
			}))
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			state.Emit(provider.FinishEvent(convertFinishReason(*choice.FinishReason)))
		}
	}

	// Handle usage (sent in final chunk with stream_options)
	if chunk.Usage != nil {
		u := provider.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
		if chunk.Usage.PromptTokensDetails != nil {
			u.CachedTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		state.Emit(provider.UsageEvent(u))
	}

	return nil
}

// convertFinishReason converts an OpenAI finish reason to a provider.FinishReason.
func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return provider.FinishReasonToolCalls
	case "length":
		return provider.FinishReasonLength
	case "content_filter":
		return provider.FinishReasonFiltered
	default:
		return provider.FinishReasonStop
	}
}

// convertError classifies an in-stream error payload.
func convertError(e *apiError) error {
	kind := provider.KindProtocol
	code := strings.ToLower(fmt.Sprint(e.Code))
	switch {
	case e.Type == "authentication_error", code == "invalid_api_key", code == "401", code == "403":
		kind = provider.KindAuthExpired
	case e.Type == "server_error", code == "rate_limit_exceeded", code == "429", strings.HasPrefix(code, "5"):
		kind = provider.KindNetwork
	}
	return &provider.Error{Kind: kind, Message: e.Message}
}
