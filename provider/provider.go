// Package provider defines the canonical data model shared by the gateway:
// requests, stream events, the provider catalog, credentials and the
// protocol adapter contract.
package provider

import (
	"context"
	"net/http"
)

// Adapter translates between the canonical model and one wire protocol
// family. Implementations are pure: Build performs no I/O and Parse is
// CPU-bound per frame.
type Adapter interface {
	RequestBuilder
	StreamParser
}

// RequestBuilder converts a Request into a provider wire request.
type RequestBuilder interface {
	// Build returns the wire request for m. Identical inputs produce
	// byte-identical bodies.
	Build(cfg *Config, m ResolvedModel, req *Request) (*WireRequest, error)
}

// StreamParser converts wire frames into canonical events.
type StreamParser interface {
	// Parse consumes one frame and queues zero or more events on state.
	// On a malformed payload it returns a protocol error and leaves events
	// queued earlier untouched.
	Parse(frame Frame, state *StreamState) error
}

// CredentialSource supplies per-provider secrets.
type CredentialSource interface {
	// Credentials returns the current credentials for a provider, or an
	// error wrapping ErrNoCredentials when none are configured.
	Credentials(ctx context.Context, providerID string) (Credentials, error)

	// Refresh obtains new credentials after the upstream rejected the
	// ones passed as rejected. A source may return credentials obtained by
	// a concurrent refresh when they differ from rejected.
	Refresh(ctx context.Context, providerID string, rejected Credentials) (Credentials, error)
}

// WireRequest is a fully built, unauthenticated HTTP request.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy, so that authorization can be applied per attempt.
func (w *WireRequest) Clone() *WireRequest {
	body := make([]byte, len(w.Body))
	copy(body, w.Body)
	return &WireRequest{
		Method: w.Method,
		URL:    w.URL,
		Header: w.Header.Clone(),
		Body:   body,
	}
}

// Frame is one raw unit received from a stream: an SSE event name and its
// data payload.
type Frame struct {
	Event string
	Data  []byte
}
