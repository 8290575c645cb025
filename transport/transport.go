// Package transport opens provider streams over HTTP and splits the
// response body into server-sent event frames.
package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/i2y/llmgateway/provider"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 16 << 10

// Transport opens a stream for a fully built, authorized wire request.
type Transport interface {
	Open(ctx context.Context, req *provider.WireRequest) (Stream, error)
}

// Stream iterates over the frames of one response.
//
//	for s.Next() {
//		f := s.Frame()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	Next() bool
	Frame() provider.Frame
	Err() error
	Close() error
}

// Func adapts a function to a Transport.
type Func func(ctx context.Context, req *provider.WireRequest) (Stream, error)

// Open calls f.
func (f Func) Open(ctx context.Context, req *provider.WireRequest) (Stream, error) {
	return f(ctx, req)
}

// HTTP is a Transport backed by net/http.
type HTTP struct {
	client *http.Client
	logger *slog.Logger
}

// Option configures the HTTP transport.
type Option func(*HTTP)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *HTTP) {
		t.client = client
	}
}

// WithHeaderTimeout bounds the wait for response headers. The body of a
// stream is not subject to it.
func WithHeaderTimeout(d time.Duration) Option {
	return func(t *HTTP) {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.ResponseHeaderTimeout = d
		t.client = &http.Client{Transport: base}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTP) {
		t.logger = logger
	}
}

// NewHTTP creates an HTTP transport.
func NewHTTP(opts ...Option) *HTTP {
	t := &HTTP{
		client: http.DefaultClient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open sends the request and returns a frame stream for a 2xx response.
// Non-2xx responses are classified by status and returned as *provider.Error
// with a sanitized body.
func (t *HTTP) Open(ctx context.Context, req *provider.WireRequest) (Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &provider.Error{Kind: provider.KindConfiguration, Message: "creating request", Cause: err}
	}
	httpReq.Header = req.Header.Clone()

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &provider.Error{Kind: provider.KindCanceled, Cause: ctxErr}
		}
		return nil, &provider.Error{Kind: provider.KindNetwork, Message: "sending request", Cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer func() { _ = httpResp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		t.logger.Debug("upstream rejected request",
			"status", httpResp.StatusCode,
			"url", req.URL,
		)
		return nil, &provider.Error{
			Kind:       provider.KindForStatus(httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Message:    Sanitize(string(body)),
		}
	}

	return NewEventStream(httpResp.Body), nil
}
