// Package gateway runs canonical completion requests against the providers
// of a catalog, with fallback, credential refresh and a collected form.
//
// Basic usage:
//
//	gw := gateway.New(provider.DefaultCatalog(), creds)
//	res, err := gw.Complete(ctx, gateway.CompletionRequest("gpt-4o", "Hello"), resolver.AnyAvailable, 0)
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
	"github.com/i2y/llmgateway/telemetry"
	"github.com/i2y/llmgateway/transport"
)

// Gateway ties a resolver, a transport and a runner together.
type Gateway struct {
	catalog   *provider.Catalog
	creds     provider.CredentialSource
	resolver  Resolver
	transport transport.Transport
	sink      telemetry.Sink
	logger    *slog.Logger
	timeout   time.Duration

	resolverOpts []resolver.Option
	runner       *Runner
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used by the gateway and its resolver.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTelemetry sets the sink receiving request lifecycle events.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(g *Gateway) {
		g.sink = sink
	}
}

// WithTransport replaces the default HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(g *Gateway) {
		g.transport = t
	}
}

// WithResolver replaces the catalog resolver.
func WithResolver(r Resolver) Option {
	return func(g *Gateway) {
		g.resolver = r
	}
}

// WithResolverOptions passes options to the built-in resolver.
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(g *Gateway) {
		g.resolverOpts = append(g.resolverOpts, opts...)
	}
}

// WithTimeout sets the collection deadline used by Complete when the call
// passes none.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// New creates a Gateway over catalog. creds supplies provider secrets.
func New(catalog *provider.Catalog, creds provider.CredentialSource, opts ...Option) *Gateway {
	g := &Gateway{
		catalog: catalog,
		creds:   creds,
		sink:    telemetry.Nop{},
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.transport == nil {
		g.transport = transport.NewHTTP(transport.WithLogger(g.logger))
	}
	if g.resolver == nil {
		ropts := append([]resolver.Option{resolver.WithLogger(g.logger)}, g.resolverOpts...)
		g.resolver = resolver.New(catalog, creds, ropts...)
	}
	g.runner = NewRunner(catalog, g.resolver, creds, g.transport, g.sink, g.logger)
	return g
}

// Catalog returns the catalog the gateway serves.
func (g *Gateway) Catalog() *provider.Catalog {
	return g.catalog
}

// Resolve returns the candidates a request for q would try, in order.
func (g *Gateway) Resolve(ctx context.Context, q resolver.Query, s resolver.Strategy) ([]provider.ResolvedModel, error) {
	return g.resolver.Resolve(ctx, q, s)
}

// Stream starts req and returns its handle for incremental consumption.
func (g *Gateway) Stream(ctx context.Context, req *provider.Request, s resolver.Strategy) *Run {
	return g.runner.Run(ctx, req, s)
}

// Complete runs req and collects the whole completion. A timeout of zero
// uses the gateway default.
func (g *Gateway) Complete(ctx context.Context, req *provider.Request, s resolver.Strategy, timeout time.Duration) (*CompletionResult, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}
	run := g.runner.Run(ctx, req, s)
	return Collect(run, timeout)
}
