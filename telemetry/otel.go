package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/i2y/llmgateway/telemetry"

// OTel is a Sink that turns each request into one span carrying the
// OpenTelemetry GenAI attributes. Failed attempts become span events.
type OTel struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTel creates a sink recording spans with tp.
func NewOTel(tp trace.TracerProvider) *OTel {
	return &OTel{
		tracer: tp.Tracer(tracerName),
		spans:  make(map[string]trace.Span),
	}
}

// Record implements Sink.
func (o *OTel) Record(ev Event) {
	switch ev.Kind {
	case KindRequestStarted:
		o.start(ev)

	case KindAttemptFailed:
		if span := o.span(ev.RequestID, false); span != nil {
			span.AddEvent("gen_ai.attempt.failed", trace.WithTimestamp(ev.Time), trace.WithAttributes(
				attribute.String("gen_ai.system", ev.Provider),
				attribute.String("gen_ai.request.model", ev.ProviderModel),
				attribute.Int("gen_ai.attempt", ev.Attempt),
				attribute.String("error.type", ev.ErrorKind),
				attribute.String("error.message", ev.Error),
			))
		}

	case KindUsage:
		if span := o.span(ev.RequestID, false); span != nil {
			span.SetAttributes(
				attribute.Int("gen_ai.usage.input_tokens", ev.Usage.PromptTokens),
				attribute.Int("gen_ai.usage.output_tokens", ev.Usage.CompletionTokens),
				attribute.Int("gen_ai.usage.total_tokens", ev.Usage.TotalTokens),
				attribute.Int("gen_ai.usage.cached_tokens", ev.Usage.CachedTokens),
			)
		}

	case KindRequestFinished:
		if span := o.span(ev.RequestID, true); span != nil {
			span.SetAttributes(
				attribute.String("gen_ai.system", ev.Provider),
				attribute.String("gen_ai.response.model", ev.ProviderModel),
				attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(ev.FinishReason)}),
			)
			span.SetStatus(codes.Ok, "")
			span.End(trace.WithTimestamp(ev.Time))
		}

	case KindRequestFailed:
		if span := o.span(ev.RequestID, true); span != nil {
			span.SetAttributes(attribute.String("error.type", ev.ErrorKind))
			span.SetStatus(codes.Error, ev.Error)
			span.End(trace.WithTimestamp(ev.Time))
		}
	}
}

func (o *OTel) start(ev Event) {
	ctx := context.Background()
	if parent, ok := remoteParent(ev.TraceID, ev.ParentSpanID); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
	}

	_, span := o.tracer.Start(ctx, "chat "+ev.Model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(ev.Time),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.request.model", ev.Model),
			attribute.String("gen_ai.request.id", ev.RequestID),
		),
	)

	o.mu.Lock()
	o.spans[ev.RequestID] = span
	o.mu.Unlock()
}

// span returns the open span of a request, removing it when end is set.
func (o *OTel) span(requestID string, end bool) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	span, ok := o.spans[requestID]
	if !ok {
		return nil
	}
	if end {
		delete(o.spans, requestID)
	}
	return span
}

// Open reports the number of requests with an unfinished span.
func (o *OTel) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.spans)
}

func remoteParent(traceID, spanID string) (trace.SpanContext, bool) {
	if traceID == "" {
		return trace.SpanContext{}, false
	}
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	cfg := trace.SpanContextConfig{TraceID: tid, TraceFlags: trace.FlagsSampled, Remote: true}
	if sid, err := trace.SpanIDFromHex(spanID); err == nil {
		cfg.SpanID = sid
	}
	sc := trace.NewSpanContext(cfg)
	// A span context needs a valid span id to act as a parent.
	return sc, sc.IsValid()
}
