package gateway

import (
	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
)

// RequestOption configures a request built by CompletionRequest.
type RequestOption func(*provider.Request)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) RequestOption {
	return func(r *provider.Request) {
		r.Temperature = &t
	}
}

// WithMaxTokens sets the maximum tokens in the response.
func WithMaxTokens(n int) RequestOption {
	return func(r *provider.Request) {
		r.MaxTokens = &n
	}
}

// WithTopP sets the nucleus sampling parameter (0.0 to 1.0).
func WithTopP(p float64) RequestOption {
	return func(r *provider.Request) {
		r.TopP = &p
	}
}

// WithTopK limits token selection to the k most probable tokens.
// Families without top_k drop it from the wire request.
func WithTopK(k int) RequestOption {
	return func(r *provider.Request) {
		r.TopK = &k
	}
}

// WithStopSequences sets stop sequences to end generation.
func WithStopSequences(seqs ...string) RequestOption {
	return func(r *provider.Request) {
		r.StopSequences = seqs
	}
}

// WithSystemMessage prepends a system message.
func WithSystemMessage(msg string) RequestOption {
	return func(r *provider.Request) {
		r.Messages = append([]provider.Message{{Role: provider.RoleSystem, Content: msg}}, r.Messages...)
	}
}

// WithMessages inserts conversation history before the prompt.
func WithMessages(msgs ...provider.Message) RequestOption {
	return func(r *provider.Request) {
		n := len(r.Messages)
		if n > 0 && r.Messages[n-1].Role == provider.RoleUser {
			prompt := r.Messages[n-1]
			r.Messages = append(append(r.Messages[:n-1:n-1], msgs...), prompt)
			return
		}
		r.Messages = append(r.Messages, msgs...)
	}
}

// WithTools adds tools the model can use.
func WithTools(tools ...provider.ToolDef) RequestOption {
	return func(r *provider.Request) {
		r.Tools = append(r.Tools, tools...)
	}
}

// WithFeature names the feature used to pick a model when none is given.
func WithFeature(f resolver.Feature) RequestOption {
	return func(r *provider.Request) {
		r.Feature = string(f)
	}
}

// WithProviderOptions merges free-form fields into the wire body.
func WithProviderOptions(opts map[string]any) RequestOption {
	return func(r *provider.Request) {
		if r.Options == nil {
			r.Options = make(map[string]any, len(opts))
		}
		for k, v := range opts {
			r.Options[k] = v
		}
	}
}

// WithRequestID sets the id used in logs and telemetry.
func WithRequestID(id string) RequestOption {
	return func(r *provider.Request) {
		r.ID = id
	}
}

// WithTrace links the request to an existing trace.
func WithTrace(traceID, parentSpanID string) RequestOption {
	return func(r *provider.Request) {
		r.Trace = &provider.TraceContext{TraceID: traceID, ParentSpanID: parentSpanID}
	}
}

// CompletionRequest builds a single-prompt request for model, which may be
// "model@provider", a bare key, or empty.
func CompletionRequest(model, prompt string, opts ...RequestOption) *provider.Request {
	req := &provider.Request{Model: model}
	if prompt != "" {
		req.Messages = append(req.Messages, provider.Message{Role: provider.RoleUser, Content: prompt})
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}
