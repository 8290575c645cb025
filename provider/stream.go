package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// maxFragmentBytes bounds buffered partial JSON per attempt.
const maxFragmentBytes = 1 << 20

// StreamState is the mutable accumulator of one in-flight attempt.
// It is created fresh per attempt and never shared.
type StreamState struct {
	queue    []Event
	done     bool
	finished bool
	fragment []byte

	// Tools tracks partial tool calls by their index in the response.
	Tools map[int]*ToolCall
	// Usage accumulates usage reported across several frames.
	Usage Usage
}

// NewStreamState returns an empty state.
func NewStreamState() *StreamState {
	return &StreamState{Tools: make(map[int]*ToolCall)}
}

// Emit queues an event.
func (s *StreamState) Emit(ev Event) {
	if ev.Type == EventFinish {
		s.finished = true
	}
	s.queue = append(s.queue, ev)
}

// Drain returns the queued events in emission order and clears the queue.
func (s *StreamState) Drain() []Event {
	out := s.queue
	s.queue = nil
	return out
}

// Pending reports the number of queued events.
func (s *StreamState) Pending() int {
	return len(s.queue)
}

// Terminate marks the stream as complete. No event is queued.
func (s *StreamState) Terminate() {
	s.done = true
}

// Done reports whether the terminal marker was seen.
func (s *StreamState) Done() bool {
	return s.done
}

// Finished reports whether a finish reason was emitted.
func (s *StreamState) Finished() bool {
	return s.finished
}

// Decode unmarshals data into v, buffering fragments of JSON split across
// frames. It returns false with a nil error while the buffered value is
// still incomplete.
func (s *StreamState) Decode(data []byte, v any) (bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 && len(s.fragment) == 0 {
		return false, nil
	}
	buf := data
	if len(s.fragment) > 0 {
		buf = append(s.fragment, data...)
	}

	dec := json.NewDecoder(bytes.NewReader(buf))
	err := dec.Decode(v)
	switch {
	case err == nil:
		s.fragment = nil
		return true, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		if len(buf) > maxFragmentBytes {
			s.fragment = nil
			return false, Errorf(KindProtocol, "partial payload exceeds %d bytes", maxFragmentBytes)
		}
		s.fragment = append([]byte(nil), buf...)
		return false, nil
	default:
		s.fragment = nil
		return false, &Error{Kind: KindProtocol, Message: "malformed stream payload", Cause: err}
	}
}

// ToolCall returns the accumulator for the tool call at index, creating it.
func (s *StreamState) ToolCall(index int) *ToolCall {
	tc, ok := s.Tools[index]
	if !ok {
		tc = &ToolCall{}
		s.Tools[index] = tc
	}
	return tc
}
