package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamState_DrainPreservesOrder(t *testing.T) {
	s := NewStreamState()
	s.Emit(TextDelta("a"))
	s.Emit(TextDelta("b"))

	got := s.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	assert.Zero(t, s.Pending())
	assert.Empty(t, s.Drain())
}

func TestStreamState_Terminate(t *testing.T) {
	s := NewStreamState()
	assert.False(t, s.Done())
	s.Terminate()
	assert.True(t, s.Done())
	assert.Zero(t, s.Pending(), "terminal marker is not an event")
}

func TestStreamState_Finished(t *testing.T) {
	s := NewStreamState()
	s.Emit(TextDelta("x"))
	assert.False(t, s.Finished())
	s.Emit(FinishEvent(FinishReasonStop))
	assert.True(t, s.Finished())
}

func TestStreamState_DecodeFragments(t *testing.T) {
	s := NewStreamState()
	var v struct {
		Text string `json:"text"`
	}

	ok, err := s.Decode([]byte(`{"te`), &v)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Decode([]byte(`xt":"hi"}`), &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi", v.Text)

	// Buffer is cleared after a successful decode.
	ok, err = s.Decode([]byte(`{"text":"again"}`), &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "again", v.Text)
}

func TestStreamState_DecodeMalformed(t *testing.T) {
	s := NewStreamState()
	s.Emit(TextDelta("kept"))

	var v map[string]any
	ok, err := s.Decode([]byte(`{"a": nope}`), &v)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.Equal(t, 1, s.Pending(), "queued events survive a parse error")
}

func TestStreamState_DecodeEmpty(t *testing.T) {
	s := NewStreamState()
	var v map[string]any
	ok, err := s.Decode([]byte("  "), &v)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestStreamState_ToolCallAccumulates(t *testing.T) {
	s := NewStreamState()
	s.ToolCall(1).Name = "second"
	s.ToolCall(0).Name = "first"
	s.ToolCall(0).Arguments += `{"a":`
	s.ToolCall(0).Arguments += `1}`

	require.Len(t, s.Tools, 2)
	assert.Equal(t, "first", s.Tools[0].Name)
	assert.Equal(t, `{"a":1}`, s.Tools[0].Arguments)
	assert.Equal(t, "second", s.Tools[1].Name)
}
