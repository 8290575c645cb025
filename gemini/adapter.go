// Package gemini implements the native Gemini generateContent protocol family.
package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/i2y/llmgateway/provider"
)

const apiVersion = "v1beta"

// Adapter implements provider.Adapter for streamGenerateContent.
type Adapter struct{}

// New creates a Gemini adapter.
func New() *Adapter {
	return &Adapter{}
}

// Build implements provider.RequestBuilder.
func (a *Adapter) Build(cfg *provider.Config, m provider.ResolvedModel, req *provider.Request) (*provider.WireRequest, error) {
	if err := provider.ValidateRequest(req); err != nil {
		return nil, err
	}

	body, err := provider.EncodeBody(a.buildRequest(req), nil, cfg.Body, req.Options)
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindValidation, Provider: cfg.ID, Cause: err}
	}

	url := fmt.Sprintf("%s/%s/models/%s:streamGenerateContent?alt=sse", cfg.Endpoint(m.Variant), apiVersion, m.Model)
	return provider.NewWireRequest(cfg, url, body, nil), nil
}

// buildRequest converts a provider.Request to a Gemini API request.
func (a *Adapter) buildRequest(req *provider.Request) *generateContentRequest {
	apiReq := &generateContentRequest{
		Contents: make([]content, 0, len(req.Messages)),
	}

	// Set generation config if any parameters are specified
	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || req.TopK != nil || len(req.StopSequences) > 0 {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			TopK:            req.TopK,
			StopSequences:   req.StopSequences,
		}
	}

	// Function responses are keyed by name, so remember which call each id named.
	callNames := make(map[string]string)

	var system []part
	for _, msg := range req.Messages {
		if msg.Role == provider.RoleSystem {
			system = append(system, part{Text: msg.Text()})
			continue
		}

		apiContent := content{
			Role:  convertRole(msg.Role),
			Parts: make([]part, 0),
		}

		// Handle tool results
		if msg.Role == provider.RoleTool {
			var responseData any
			_ = json.Unmarshal([]byte(msg.Text()), &responseData)
			if _, isObject := responseData.(map[string]any); !isObject {
				responseData = map[string]any{"result": msg.Text()}
			}

			name := callNames[msg.ToolID]
			if name == "" {
				name = msg.ToolID
			}
			apiContent.Role = "user"
			apiContent.Parts = append(apiContent.Parts, part{
				FunctionResponse: &functionResponse{Name: name, Response: responseData},
			})
			apiReq.Contents = append(apiReq.Contents, apiContent)
			continue
		}

		apiContent.Parts = append(apiContent.Parts, convertParts(msg)...)

		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Name
			var args map[string]any
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = make(map[string]any)
				}
			}
			apiContent.Parts = append(apiContent.Parts, part{
				FunctionCall: &functionCall{Name: tc.Name, Args: args},
			})
		}

		if len(apiContent.Parts) > 0 {
			apiReq.Contents = append(apiReq.Contents, apiContent)
		}
	}
	if len(system) > 0 {
		apiReq.SystemInstruction = &content{Parts: system}
	}

	// Handle tools
	if len(req.Tools) > 0 {
		funcDecls := make([]functionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			funcDecls = append(funcDecls, functionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		apiReq.Tools = []tool{{FunctionDeclarations: funcDecls}}
	}

	return apiReq
}

func convertParts(msg provider.Message) []part {
	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil
		}
		return []part{{Text: msg.Content}}
	}

	parts := make([]part, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case provider.PartText:
			parts = append(parts, part{Text: p.Text})
		case provider.PartImage:
			if p.ImageURL != "" {
				parts = append(parts, part{FileData: &fileData{MimeType: p.MediaType, FileURI: p.ImageURL}})
			} else {
				parts = append(parts, part{InlineData: &blob{MimeType: p.MediaType, Data: p.Data}})
			}
		}
	}
	return parts
}

func convertRole(role provider.Role) string {
	switch role {
	case provider.RoleAssistant:
		return "model"
	default:
		return "user"
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return provider.FinishReasonFiltered
	case "MALFORMED_FUNCTION_CALL", "UNEXPECTED_TOOL_CALL":
		return provider.FinishReasonToolCalls
	default:
		return provider.FinishReasonStop
	}
}

// Parse implements provider.StreamParser. The stream has no terminator;
// it ends at EOF after a chunk carrying a finish reason.
func (a *Adapter) Parse(frame provider.Frame, state *provider.StreamState) error {
	var chunk streamChunk
	ok, err := state.Decode(frame.Data, &chunk)
	if err != nil || !ok {
		return err
	}

	if chunk.Error != nil {
		state.Emit(provider.ErrorEvent(convertError(chunk.Error)))
		return nil
	}

	if chunk.UsageMetadata != nil {
		state.Usage = provider.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			CachedTokens:     chunk.UsageMetadata.CachedContentTokenCount,
		}
	}

	finish := ""
	if len(chunk.Candidates) > 0 {
		c := chunk.Candidates[0]
		finish = c.FinishReason

		if c.Content != nil {
			for _, p := range c.Content.Parts {
				if p.Text != "" {
					state.Emit(provider.TextDelta(p.Text))
				}
				if p.FunctionCall != nil {
					emitFunctionCall(state, p.FunctionCall)
				}
			}
		}
	}

	if finish != "" {
		reason := convertFinishReason(finish)
		// Gemini reports STOP even when the turn ends in function calls.
		if reason == provider.FinishReasonStop && len(state.Tools) > 0 {
			reason = provider.FinishReasonToolCalls
		}
		state.Emit(provider.FinishEvent(reason))
	}

	// Usage is cumulative; report it once the turn is finished.
	if chunk.UsageMetadata != nil && state.Finished() {
		state.Emit(provider.UsageEvent(state.Usage))
	}

	return nil
}

// emitFunctionCall records a complete function call. Gemini sends calls
// whole and without ids, so ids are derived from the call position.
func emitFunctionCall(state *provider.StreamState, fc *functionCall) {
	index := len(state.Tools)
	args := "{}"
	if len(fc.Args) > 0 {
		if raw, err := json.Marshal(fc.Args); err == nil {
			args = string(raw)
		}
	}

	call := state.ToolCall(index)
	call.ID = fmt.Sprintf("call_%d_%s", index, fc.Name)
	call.Name = fc.Name
	call.Arguments = args

	state.Emit(provider.ToolCallDeltaEvent(provider.ToolCallDelta{
		Index:          index,
		ID:             call.ID,
		Name:           call.Name,
		ArgumentsDelta: args,
	}))
}

func convertError(e *apiError) error {
	kind := provider.KindForStatus(e.Code)
	switch strings.ToUpper(e.Status) {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		kind = provider.KindAuthExpired
	case "UNAVAILABLE", "RESOURCE_EXHAUSTED", "INTERNAL", "DEADLINE_EXCEEDED":
		kind = provider.KindNetwork
	}
	return &provider.Error{Kind: kind, StatusCode: e.Code, Message: e.Message}
}
