package gateway

import (
	"sort"
	"strings"
	"time"

	"github.com/i2y/llmgateway/provider"
)

// DefaultTimeout is the collection deadline used when none is given.
const DefaultTimeout = 30 * time.Second

// cancelGrace bounds how long Collect waits for a timed-out run to stop.
const cancelGrace = 250 * time.Millisecond

// CompletionResult is the aggregate of a completed run.
type CompletionResult struct {
	Text         string
	ToolCalls    []provider.ToolCall
	Usage        *provider.Usage
	FinishReason provider.FinishReason

	// Served is the candidate that produced the result.
	Served provider.ResolvedModel
	// Failures holds the errors of candidates tried before Served.
	Failures []error
}

// Collect drains run into a CompletionResult. The timeout is a single
// wall-clock deadline from the call; when it passes, the run is canceled
// and provider.ErrTimeout is returned without partial output once the run
// has stopped, or after a short grace period.
func Collect(run *Run, timeout time.Duration) (*CompletionResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	acc := newAccumulator()
	events := run.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			acc.add(ev)
		case <-timer.C:
			run.Cancel()
			select {
			case <-run.Done():
			case <-time.After(cancelGrace):
			}
			return nil, &provider.Error{Kind: provider.KindTimeout, Message: "collecting completion: deadline " + timeout.String() + " exceeded"}
		}
	}

	if err := run.Wait(); err != nil {
		return nil, err
	}
	res := acc.result()
	res.Served = run.Served()
	res.Failures = run.Failures()
	return res, nil
}

// accumulator assembles one run's events. It is created per Collect call.
type accumulator struct {
	text   strings.Builder
	calls  map[int]*provider.ToolCall
	usage  *provider.Usage
	finish provider.FinishReason
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[int]*provider.ToolCall)}
}

func (a *accumulator) add(ev provider.Event) {
	switch ev.Type {
	case provider.EventTextDelta:
		a.text.WriteString(ev.Text)
	case provider.EventToolCallDelta:
		d := ev.ToolCall
		tc, ok := a.calls[d.Index]
		if !ok {
			tc = &provider.ToolCall{}
			a.calls[d.Index] = tc
		}
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Name != "" {
			tc.Name = d.Name
		}
		tc.Arguments += d.ArgumentsDelta
	case provider.EventUsage:
		u := *ev.Usage
		a.usage = &u
	case provider.EventFinish:
		a.finish = ev.FinishReason
	}
}

func (a *accumulator) result() *CompletionResult {
	res := &CompletionResult{
		Text:         a.text.String(),
		Usage:        a.usage,
		FinishReason: a.finish,
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		res.ToolCalls = append(res.ToolCalls, *a.calls[i])
	}
	return res
}
