package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// EncodeBody marshals a typed wire body, overlays defaults and then
// overrides (later maps win, keys replaced wholesale), and finally deletes
// every stripped top-level field. Output keys are sorted, so equal inputs
// encode to equal bytes.
func EncodeBody(body any, strip []string, overlays ...map[string]any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	for _, overlay := range overlays {
		for k, v := range overlay {
			fields[k] = v
		}
	}
	for _, k := range strip {
		delete(fields, k)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling provider options: %w", err)
	}
	return out, nil
}

// NewWireRequest returns a POST wire request with JSON content headers,
// the provider's default headers and the given extra headers.
func NewWireRequest(cfg *Config, url string, body []byte, extra map[string]string) *WireRequest {
	w := &WireRequest{
		Method: "POST",
		URL:    url,
		Header: make(http.Header),
		Body:   body,
	}
	w.Header.Set("Content-Type", "application/json")
	w.Header.Set("Accept", "text/event-stream")
	for k, v := range extra {
		w.Header.Set(k, v)
	}
	for k, v := range cfg.Headers {
		if k == "" || v == "" {
			continue
		}
		w.Header.Set(k, v)
	}
	return w
}

// ValidateRequest checks the structural requirements shared by every family.
func ValidateRequest(req *Request) error {
	if req == nil {
		return Errorf(KindValidation, "request is nil")
	}
	if len(req.Messages) == 0 {
		return Errorf(KindValidation, "at least one message is required")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return Errorf(KindValidation, "message %d: unknown role %q", i, m.Role)
		}
		if m.Role == RoleTool && m.ToolID == "" {
			return Errorf(KindValidation, "message %d: tool message requires a tool call id", i)
		}
	}
	for _, t := range req.Tools {
		if t.Name == "" {
			return Errorf(KindValidation, "tool name is required")
		}
	}
	return nil
}
