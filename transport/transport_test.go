package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/llmgateway/provider"
)

func wireRequest(url string) *provider.WireRequest {
	w := &provider.WireRequest{
		Method: "POST",
		URL:    url,
		Header: make(http.Header),
		Body:   []byte(`{"stream":true}`),
	}
	w.Header.Set("Authorization", "Bearer secret")
	return w
}

func collect(t *testing.T, s Stream) []provider.Frame {
	t.Helper()
	var frames []provider.Frame
	for s.Next() {
		frames = append(frames, s.Frame())
	}
	require.NoError(t, s.Err())
	return frames
}

func TestHTTP_Open(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"stream":true}`, string(body))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"a\":1}\n\n: keep-alive\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := NewHTTP().Open(context.Background(), wireRequest(srv.URL))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	frames := collect(t, s)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"a":1}`, string(frames[0].Data))
	assert.Equal(t, "[DONE]", string(frames[1].Data))
}

func TestHTTP_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   provider.ErrorKind
	}{
		{status: http.StatusUnauthorized, want: provider.KindAuthExpired},
		{status: http.StatusForbidden, want: provider.KindAuthExpired},
		{status: http.StatusTooManyRequests, want: provider.KindNetwork},
		{status: http.StatusBadGateway, want: provider.KindNetwork},
		{status: http.StatusBadRequest, want: provider.KindProtocol},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":"invalid key sk-abc123def"}`)
			}))
			defer srv.Close()

			_, err := NewHTTP().Open(context.Background(), wireRequest(srv.URL))
			require.Error(t, err)

			var perr *provider.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.want, perr.Kind)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.NotContains(t, perr.Message, "sk-abc123def")
			assert.Contains(t, perr.Message, "[REDACTED]")
		})
	}
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP().Open(context.Background(), wireRequest(url))
	assert.ErrorIs(t, err, provider.ErrNetwork)
}

func TestHTTP_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTP().Open(ctx, wireRequest(srv.URL))
	assert.ErrorIs(t, err, provider.ErrCanceled)
}

func TestEventStream(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []provider.Frame
	}{
		{
			name: "named events",
			body: "event: message_start\ndata: {\"x\":1}\n\nevent: ping\ndata: {}\n\n",
			want: []provider.Frame{
				{Event: "message_start", Data: []byte(`{"x":1}`)},
				{Event: "ping", Data: []byte(`{}`)},
			},
		},
		{
			name: "crlf and no space",
			body: "data:{\"y\":2}\r\n\r\n",
			want: []provider.Frame{{Data: []byte(`{"y":2}`)}},
		},
		{
			name: "multi-line data",
			body: "data: {\"a\":\ndata: 1}\n\n",
			want: []provider.Frame{{Data: []byte("{\"a\":\n1}")}},
		},
		{
			name: "trailing event without blank line",
			body: "data: last",
			want: []provider.Frame{{Data: []byte("last")}},
		},
		{
			name: "comments only",
			body: ": hi\n\n: again\n\n",
		},
		{
			name: "event name resets after dispatch",
			body: "event: a\ndata: 1\n\ndata: 2\n\n",
			want: []provider.Frame{
				{Event: "a", Data: []byte("1")},
				{Data: []byte("2")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewEventStream(io.NopCloser(strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, collect(t, s))
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestEventStream_ReadError(t *testing.T) {
	s := NewEventStream(io.NopCloser(failingReader{}))
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), provider.ErrNetwork)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: " bad request ", want: "bad request"},
		{name: "openai key", in: "key sk-proj-abc_123 rejected", want: "key [REDACTED] rejected"},
		{name: "google key", in: "AIzaSyD-xyz invalid", want: "[REDACTED] invalid"},
		{name: "bare prefix", in: "sk- and sk-real", want: "sk- and [REDACTED]"},
		{name: "truncated", in: strings.Repeat("x", 250), want: strings.Repeat("x", 200) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}
