package gateway

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
	"github.com/i2y/llmgateway/telemetry"
	"github.com/i2y/llmgateway/transport"
)

// Resolver resolves a query to ordered candidates.
type Resolver interface {
	Resolve(ctx context.Context, q resolver.Query, s resolver.Strategy) ([]provider.ResolvedModel, error)
}

// Runner executes requests against resolved candidates, one at a time,
// and forwards normalized events to the caller.
type Runner struct {
	catalog   *provider.Catalog
	resolver  Resolver
	creds     provider.CredentialSource
	transport transport.Transport
	sink      telemetry.Sink
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(catalog *provider.Catalog, res Resolver, creds provider.CredentialSource, t transport.Transport, sink telemetry.Sink, logger *slog.Logger) *Runner {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		catalog:   catalog,
		resolver:  res,
		creds:     creds,
		transport: t,
		sink:      sink,
		logger:    logger,
	}
}

// Run is the handle of one in-flight request. Events must be drained, or
// the run canceled, for it to finish.
type Run struct {
	id     string
	events chan provider.Event
	done   chan struct{}
	cancel context.CancelFunc

	// Written by the run goroutine before done is closed.
	err      error
	served   provider.ResolvedModel
	failures []error
}

// ID returns the request id.
func (r *Run) ID() string { return r.id }

// Events returns the event channel. It is closed when the run ends.
func (r *Run) Events() <-chan provider.Event { return r.events }

// All returns an iterator over the events of the run.
//
//	for ev := range run.All() {
//		fmt.Print(ev.Text)
//	}
//	if err := run.Wait(); err != nil { ... }
func (r *Run) All() iter.Seq[provider.Event] {
	return func(yield func(provider.Event) bool) {
		for ev := range r.events {
			if !yield(ev) {
				r.Cancel()
				return
			}
		}
	}
}

// Cancel stops the run. No event is delivered once cancellation is observed.
func (r *Run) Cancel() { r.cancel() }

// Done is closed when the run has ended and its stream is released.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its error.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Served returns the candidate that completed the request. It is valid
// after Wait returns nil.
func (r *Run) Served() provider.ResolvedModel {
	<-r.done
	return r.served
}

// Failures returns the errors of the attempts that failed before the run
// completed.
func (r *Run) Failures() []error {
	<-r.done
	return r.failures
}

func (r *Run) send(ctx context.Context, ev provider.Event) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return canceled(ctx.Err())
	}
}

// Run starts req in the background and returns its handle.
func (r *Runner) Run(ctx context.Context, req *provider.Request, s resolver.Strategy) *Run {
	ctx, cancel := context.WithCancel(ctx)
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	run := &Run{
		id:     id,
		events: make(chan provider.Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(run.done)
		defer close(run.events)
		defer cancel()
		run.err = r.execute(ctx, run, req, s)
	}()
	return run
}

func (r *Runner) execute(ctx context.Context, run *Run, req *provider.Request, s resolver.Strategy) error {
	start := time.Now()
	base := telemetry.Event{RequestID: run.id, Model: req.Model}
	if req.Trace != nil {
		base.TraceID = req.Trace.TraceID
		base.ParentSpanID = req.Trace.ParentSpanID
	}
	logger := r.logger.With("request_id", run.id)

	r.record(base, telemetry.KindRequestStarted, nil)

	err := r.attemptAll(ctx, run, req, s, base, logger)
	if err != nil {
		r.record(base, telemetry.KindRequestFailed, func(ev *telemetry.Event) {
			ev.ErrorKind = provider.KindOf(err).String()
			ev.Error = err.Error()
			ev.Duration = time.Since(start)
		})
		logger.Warn("request failed", "model", req.Model, "error", err, "duration", time.Since(start))
		return err
	}

	logger.Info("request completed",
		"provider", run.served.ProviderID,
		"model", run.served.Model,
		"duration", time.Since(start),
	)
	return nil
}

func (r *Runner) attemptAll(ctx context.Context, run *Run, req *provider.Request, s resolver.Strategy, base telemetry.Event, logger *slog.Logger) error {
	q := resolver.Query{Model: req.Model, Feature: resolver.Feature(req.Feature)}
	candidates, err := r.resolver.Resolve(ctx, q, s)
	if err != nil {
		return err
	}

	var (
		failures []error
		attempt  int
	)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		cfg, ok := r.catalog.Provider(cand.ProviderID)
		if !ok {
			return &provider.Error{Kind: provider.KindConfiguration, Provider: cand.ProviderID, Message: "unknown provider"}
		}
		adapter, err := AdapterFor(cfg.Protocol)
		if err != nil {
			return err
		}
		wire, err := adapter.Build(cfg, cand, req)
		if err != nil {
			return annotate(err, cand)
		}

		refreshed := false
		for {
			attempt++
			log := logger.With("provider", cand.ProviderID, "model", cand.Model, "attempt", attempt)

			out := &outcome{}
			err := r.stream(ctx, run, cfg, adapter, cand, wire, out)
			if err == nil {
				run.served = cand
				run.failures = failures
				if out.usage != nil {
					r.record(base, telemetry.KindUsage, func(ev *telemetry.Event) {
						ev.Provider, ev.ProviderModel, ev.Attempt = cand.ProviderID, cand.Model, attempt
						ev.Usage = *out.usage
					})
				}
				r.record(base, telemetry.KindRequestFinished, func(ev *telemetry.Event) {
					ev.Provider, ev.ProviderModel, ev.Attempt = cand.ProviderID, cand.Model, attempt
					ev.FinishReason = out.finish
				})
				return nil
			}

			if ctx.Err() != nil {
				return canceled(ctx.Err())
			}
			err = annotate(err, cand)
			failures = append(failures, err)
			r.record(base, telemetry.KindAttemptFailed, func(ev *telemetry.Event) {
				ev.Provider, ev.ProviderModel, ev.Attempt = cand.ProviderID, cand.Model, attempt
				ev.ErrorKind = provider.KindOf(err).String()
				ev.Error = err.Error()
			})

			// Once output reached the consumer, a failure is terminal.
			if out.emitted {
				log.Warn("stream failed after output", "error", err)
				if sendErr := run.send(ctx, provider.ErrorEvent(err)); sendErr != nil {
					return sendErr
				}
				return &AllProvidersFailedError{Attempts: failures, Partial: out.text.String()}
			}

			if provider.KindOf(err) == provider.KindAuthExpired && !refreshed && cfg.RequiresCredentials() {
				refreshed = true
				log.Info("refreshing credentials", "error", err)
				if _, rerr := r.creds.Refresh(ctx, cfg.ID, out.creds); rerr != nil {
					if ctx.Err() != nil {
						return canceled(ctx.Err())
					}
					if provider.KindOf(rerr) == 0 {
						rerr = &provider.Error{Kind: provider.KindCredential, Message: "refreshing credentials", Cause: rerr}
					}
					failures = append(failures, annotate(rerr, cand))
					log.Warn("credential refresh failed", "error", rerr)
					break
				}
				continue
			}

			log.Warn("attempt failed", "error", err)
			break
		}
	}

	return &AllProvidersFailedError{Attempts: failures}
}

// outcome accumulates what one attempt delivered to the consumer.
type outcome struct {
	creds   provider.Credentials
	emitted bool
	text    strings.Builder
	usage   *provider.Usage
	finish  provider.FinishReason
}

func (o *outcome) observe(ev provider.Event) {
	o.emitted = true
	switch ev.Type {
	case provider.EventTextDelta:
		o.text.WriteString(ev.Text)
	case provider.EventUsage:
		o.usage = ev.Usage
	case provider.EventFinish:
		o.finish = ev.FinishReason
	}
}

// stream performs one attempt: authorize, connect and forward events until
// the stream completes. The stream is released on every path.
func (r *Runner) stream(ctx context.Context, run *Run, cfg *provider.Config, adapter provider.Adapter, cand provider.ResolvedModel, wire *provider.WireRequest, out *outcome) error {
	wire = wire.Clone()
	if cfg.RequiresCredentials() {
		creds, err := r.creds.Credentials(ctx, cfg.ID)
		if err != nil {
			if ctx.Err() != nil {
				return canceled(ctx.Err())
			}
			if provider.KindOf(err) == 0 {
				err = &provider.Error{Kind: provider.KindCredential, Cause: err}
			}
			return err
		}
		cfg.Authorize(wire.Header, creds)
		out.creds = creds
	}

	s, err := r.transport.Open(ctx, wire)
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return err
	}
	defer func() { _ = s.Close() }()

	state := provider.NewStreamState()
	forward := func() error {
		for _, ev := range state.Drain() {
			if ev.Type == provider.EventError {
				return ev.Err
			}
			if err := run.send(ctx, ev); err != nil {
				return err
			}
			out.observe(ev)
		}
		return nil
	}

	for s.Next() {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		parseErr := adapter.Parse(s.Frame(), state)
		if err := forward(); err != nil {
			return err
		}
		if parseErr != nil {
			return parseErr
		}
		if state.Done() {
			return nil
		}
	}

	if err := s.Err(); err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return err
	}
	if ctx.Err() != nil {
		return canceled(ctx.Err())
	}
	if state.Finished() {
		return nil
	}
	return &provider.Error{Kind: provider.KindNetwork, Message: "stream ended before completion"}
}

func (r *Runner) record(base telemetry.Event, kind telemetry.Kind, fill func(*telemetry.Event)) {
	ev := base
	ev.Kind = kind
	ev.Time = time.Now()
	if fill != nil {
		fill(&ev)
	}
	r.sink.Record(ev)
}
