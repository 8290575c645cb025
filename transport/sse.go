package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/i2y/llmgateway/provider"
)

// EventStream reads server-sent events from a response body. Each
// dispatched event becomes one frame; multi-line data is joined with "\n".
type EventStream struct {
	reader  *bufio.Reader
	closer  io.Closer
	current provider.Frame
	err     error
	done    bool
}

// NewEventStream returns a stream over body. Closing the stream closes body.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		reader: bufio.NewReaderSize(body, 64<<10),
		closer: body,
	}
}

// Next advances to the next frame.
func (s *EventStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	var (
		event   string
		data    bytes.Buffer
		hasData bool
	)
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			s.err = readError(err)
			return false
		}
		eof := err != nil

		line = bytes.TrimRight(line, "\r\n")
		switch {
		case len(line) == 0:
			// Blank line dispatches the pending event.
			if hasData {
				s.current = provider.Frame{Event: event, Data: data.Bytes()}
				return true
			}
			event = ""
		case line[0] == ':':
			// Comment, used as keep-alive.
		default:
			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				event = string(value)
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.Write(value)
				hasData = true
			}
		}

		if eof {
			s.done = true
			if hasData {
				s.current = provider.Frame{Event: event, Data: data.Bytes()}
				return true
			}
			return false
		}
	}
}

// Frame returns the current frame.
func (s *EventStream) Frame() provider.Frame {
	return s.current
}

// Err returns the error that stopped iteration, if any. A clean end of
// body is not an error.
func (s *EventStream) Err() error {
	return s.err
}

// Close closes the underlying body.
func (s *EventStream) Close() error {
	return s.closer.Close()
}

// readError wraps a failure while reading a stream body.
func readError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &provider.Error{Kind: provider.KindCanceled, Cause: err}
	}
	return &provider.Error{Kind: provider.KindNetwork, Message: "reading stream", Cause: err}
}
