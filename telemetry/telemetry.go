// Package telemetry records gateway request lifecycles. Sinks are
// fire-and-forget: recording never blocks or fails the request path.
package telemetry

import (
	"time"

	"github.com/i2y/llmgateway/provider"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindRequestStarted  Kind = "request_started"
	KindAttemptFailed   Kind = "attempt_failed"
	KindUsage           Kind = "usage"
	KindRequestFinished Kind = "request_finished"
	KindRequestFailed   Kind = "request_failed"
)

// Event is one lifecycle record.
type Event struct {
	Kind      Kind
	Time      time.Time
	RequestID string

	// Trace linkage supplied by the caller, hex encoded.
	TraceID      string
	ParentSpanID string

	// Model is the requested identifier; Provider and ProviderModel name
	// the candidate the event concerns.
	Model         string
	Provider      string
	ProviderModel string
	Attempt       int

	Usage        provider.Usage
	FinishReason provider.FinishReason
	ErrorKind    string
	Error        string
	Duration     time.Duration
}

// Sink receives lifecycle events.
type Sink interface {
	Record(ev Event)
}

// Nop discards events.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(Event) {}

// Func adapts a function to a Sink.
type Func func(ev Event)

// Record implements Sink.
func (f Func) Record(ev Event) { f(ev) }

// Multi fans events out to several sinks.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}
