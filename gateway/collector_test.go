package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
)

func TestCollect(t *testing.T) {
	h := newHarness(t, map[string][]script{"alpha.test": {helloScript()}})

	res, err := Collect(h.runner.Run(context.Background(), hello(), resolver.AnyAvailable), time.Second)
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, provider.FinishReasonStop, res.FinishReason)
	assert.Equal(t, &provider.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, res.Usage)
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, "alpha", res.Served.ProviderID)
	assert.Empty(t, res.Failures)
}

func TestCollect_FallbackEquivalence(t *testing.T) {
	alone := newHarness(t, map[string][]script{"beta.test": {helloScript()}})
	want, err := Collect(alone.runner.Run(context.Background(), CompletionRequest("m@beta", "hi"), resolver.AnyAvailable), time.Second)
	require.NoError(t, err)

	fallback := newHarness(t, map[string][]script{
		"alpha.test": {networkFailure()},
		"beta.test":  {helloScript()},
	})
	got, err := Collect(fallback.runner.Run(context.Background(), hello(), resolver.AnyAvailable), time.Second)
	require.NoError(t, err)

	assert.Equal(t, want.Text, got.Text)
	assert.Equal(t, want.ToolCalls, got.ToolCalls)
	assert.Equal(t, want.Usage, got.Usage)
	assert.Equal(t, want.FinishReason, got.FinishReason)
	assert.Equal(t, want.Served, got.Served)

	require.Len(t, got.Failures, 1, "the failed candidate is recorded")
	assert.ErrorIs(t, got.Failures[0], provider.ErrNetwork)
}

func TestCollect_ToolCalls(t *testing.T) {
	frames := []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"time","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"weather","arguments":"{\"city\":"}}]}}]}`,
		frameToolArg,
		frameDone,
	}
	h := newHarness(t, map[string][]script{"alpha.test": {{frames: frames}}})

	res, err := Collect(h.runner.Run(context.Background(), hello(), resolver.AnyAvailable), time.Second)
	require.NoError(t, err)

	assert.Equal(t, provider.FinishReasonToolCalls, res.FinishReason)
	assert.Equal(t, []provider.ToolCall{
		{ID: "call_1", Name: "weather", Arguments: `{"city":"Oslo"}`},
		{ID: "call_2", Name: "time", Arguments: "{}"},
	}, res.ToolCalls)
	assert.Nil(t, res.Usage)
}

func TestCollect_TimeoutCancelsRun(t *testing.T) {
	h := newHarness(t, map[string][]script{
		"alpha.test": {{frames: []string{frameHel}, hold: true}},
	})
	run := h.runner.Run(context.Background(), hello(), resolver.AnyAvailable)

	const deadline = 50 * time.Millisecond
	start := time.Now()
	res, err := Collect(run, deadline)
	elapsed := time.Since(start)

	assert.Nil(t, res, "no partial output on timeout")
	assert.ErrorIs(t, err, provider.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, deadline+time.Second)

	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("run was not canceled")
	}
	assert.ErrorIs(t, run.Wait(), provider.ErrCanceled)
	assert.Equal(t, int32(1), h.transport.closed.Load())

	processed := h.transport.frames.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, processed, h.transport.frames.Load(), "no frames after the run ended")
}

func TestCollect_TimeoutStopsParsing(t *testing.T) {
	// The second frame arrives after the deadline from a stream that does
	// not observe cancellation.
	h := newHarness(t, map[string][]script{
		"alpha.test": {{frames: []string{frameHel, frameLoStop, frameDone}, slow: 40 * time.Millisecond}},
	})
	run := h.runner.Run(context.Background(), hello(), resolver.AnyAvailable)

	_, err := Collect(run, 10*time.Millisecond)
	require.ErrorIs(t, err, provider.ErrTimeout)
	assert.Equal(t, int32(1), h.transport.read.Load(), "frames parsed when Collect returns")

	<-run.Done()
	assert.Equal(t, int32(1), h.transport.read.Load(), "frames parsed after the run ended")
	assert.Equal(t, int32(2), h.transport.frames.Load())
	assert.ErrorIs(t, run.Wait(), provider.ErrCanceled)
}

func TestCollect_Failure(t *testing.T) {
	h := newHarness(t, map[string][]script{
		"alpha.test": {networkFailure()},
		"beta.test":  {networkFailure()},
	})

	res, err := Collect(h.runner.Run(context.Background(), hello(), resolver.AnyAvailable), time.Second)
	assert.Nil(t, res)

	var failed *AllProvidersFailedError
	require.ErrorAs(t, err, &failed)
	assert.Len(t, failed.Attempts, 2)
	assert.Empty(t, failed.Partial)
}

func TestCollect_DefaultTimeout(t *testing.T) {
	h := newHarness(t, map[string][]script{"alpha.test": {helloScript()}})

	res, err := Collect(h.runner.Run(context.Background(), hello(), resolver.AnyAvailable), 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
}
